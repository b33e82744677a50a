package member

import (
	"flag"
	"strconv"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
)

// peersValue is a flag.Value over a peer list
type peersValue struct {
	peers *[]cluster.Peer
}

func (v peersValue) String() string {
	if v.peers == nil {
		return ""
	}
	return cluster.FormatPeers(*v.peers)
}

func (v peersValue) Set(s string) error {
	peers, err := cluster.ParsePeers(s)
	if err != nil {
		return err
	}
	*v.peers = peers
	return nil
}

// BindFlags registers the member daemon flags on fs, writing into cfg.
// Values already in cfg are the defaults.
func BindFlags(fs *flag.FlagSet, cfg *cluster.MemberConfig) {
	fs.IntVar(&cfg.ID, "id", cfg.ID, "Member ID")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host to listen on and advertise")
	fs.IntVar(&cfg.ClusterPort, "cluster-port", cfg.ClusterPort, "Coordinator request port")
	fs.IntVar(&cfg.ReplicationPort, "replication-port", cfg.ReplicationPort, "Peer replication port")
	fs.IntVar(&cfg.BackupPort, "backup-port", cfg.BackupPort, "Backup, health and metrics HTTP port")
	fs.StringVar(&cfg.StoragePath, "data", cfg.StoragePath, "Storage directory")
	fs.BoolVar(&cfg.AllowStoreUpgrade, "allow-store-upgrade", cfg.AllowStoreUpgrade, "Upgrade an older store format on open")
	fs.IntVar(&cfg.StoreFormat, "store-format", cfg.StoreFormat, "Store format to write (0 for the newest)")
	fs.StringVar(&cfg.Version, "version", cfg.Version, "Software version recorded in the store")
	fs.Var(peersValue{peers: &cfg.Peers}, "peers", "Other members as id@host:cluster:replication:backup, comma separated")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat", cfg.HeartbeatInterval, "Peer status polling interval")
	fs.DurationVar(&cfg.ElectionTimeout, "election-timeout", cfg.ElectionTimeout, "Leader silence before an election")
	fs.DurationVar(&cfg.PullInterval, "pull-interval", cfg.PullInterval, "Follower log pull interval")
	fs.StringVar(&cfg.BackupSecret, "backup-secret", cfg.BackupSecret, "Shared secret for backup endpoint tokens")
}

// BackupSecretEnv carries the backup secret to a launched member so it
// stays out of the process list
const BackupSecretEnv = "GRAPHDB_BACKUP_SECRET"

// Args renders cfg as command line flags accepted by BindFlags. The
// backup secret is not included; see BackupSecretEnv.
func Args(cfg cluster.MemberConfig) []string {
	args := []string{
		"-id", strconv.Itoa(cfg.ID),
		"-host", cfg.Host,
		"-cluster-port", strconv.Itoa(cfg.ClusterPort),
		"-replication-port", strconv.Itoa(cfg.ReplicationPort),
		"-backup-port", strconv.Itoa(cfg.BackupPort),
		"-data", cfg.StoragePath,
		"-allow-store-upgrade=" + strconv.FormatBool(cfg.AllowStoreUpgrade),
		"-store-format", strconv.Itoa(cfg.StoreFormat),
		"-heartbeat", cfg.HeartbeatInterval.String(),
		"-election-timeout", cfg.ElectionTimeout.String(),
		"-pull-interval", cfg.PullInterval.String(),
	}
	if cfg.Version != "" {
		args = append(args, "-version", cfg.Version)
	}
	if len(cfg.Peers) > 0 {
		args = append(args, "-peers", cluster.FormatPeers(cfg.Peers))
	}
	return args
}
