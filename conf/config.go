package conf

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"
)

// CommandLineArgs carries the flags main hands to the config loader.
type CommandLineArgs struct {
	ConfigPath string
}

// SessionParam tunes the per-connection TCP behaviour of the front-end.
type SessionParam struct {
	TcpNoDelay              bool   `toml:"tcp_no_delay"`
	TcpKeepAlive            bool   `toml:"tcp_keep_alive"`
	KeepAlivePeriod         string `toml:"keep_alive_period"`
	KeepAlivePeriodDuration time.Duration `toml:"-"`
	TcpRBufSize             int    `toml:"tcp_r_buf_size"`
	TcpWBufSize             int    `toml:"tcp_w_buf_size"`
	PkgWQSize               int    `toml:"pkg_wq_size"`
	TcpReadTimeout          string `toml:"tcp_read_timeout"`
	TcpReadTimeoutDuration  time.Duration `toml:"-"`
	TcpWriteTimeout         string `toml:"tcp_write_timeout"`
	TcpWriteTimeoutDuration time.Duration `toml:"-"`
	WaitTimeout             string `toml:"wait_timeout"`
	WaitTimeoutDuration     time.Duration `toml:"-"`
	MaxMsgLen               int    `toml:"max_msg_len"`
	SessionName             string `toml:"session_name"`
}

// Cfg is the full QuokkaDB configuration. Defaults come from NewCfg; an INI
// or TOML file overrides them section by section.
type Cfg struct {
	AppName     string `toml:"app_name"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`

	// storage
	DataDir              string `toml:"data_dir"`
	PageSize             int    `toml:"page_size"`
	BufferPoolPages      int    `toml:"buffer_pool_pages"`
	WALDir               string `toml:"wal_dir"`
	CheckpointBytes      int    `toml:"checkpoint_bytes"`
	CompressionThreshold int    `toml:"compression_threshold"`
	FlushAtCommit        bool   `toml:"flush_at_commit"`
	LockTimeout          string `toml:"lock_timeout"`
	LockTimeoutDuration  time.Duration `toml:"-"`
	BTreeMinDegree       int    `toml:"btree_min_degree"`

	// logs
	LogError string `toml:"log_error"`
	LogInfos string `toml:"log_infos"`
	LogLevel string `toml:"log_level"`

	// session
	SessionNumber   int    `toml:"session_number"`
	SessionTimeout  string `toml:"session_timeout"`
	SessionTimeoutDuration time.Duration `toml:"-"`
	FailFastTimeout string `toml:"fail_fast_timeout"`
	FailFastTimeoutDuration time.Duration `toml:"-"`

	Session SessionParam `toml:"session_param"`
}

// NewCfg returns the built-in defaults.
func NewCfg() *Cfg {
	return &Cfg{
		AppName:     "quokkadb",
		BindAddress: "127.0.0.1",
		Port:        4817,

		DataDir:              "data",
		PageSize:             4096,
		BufferPoolPages:      1024,
		WALDir:               "data",
		CheckpointBytes:      4 * 1024 * 1024,
		CompressionThreshold: 1024,
		FlushAtCommit:        true,
		LockTimeout:          "5s",
		BTreeMinDegree:       32,

		LogError: "logs/error.log",
		LogInfos: "logs/quokka.log",
		LogLevel: "info",

		SessionNumber:   1000,
		SessionTimeout:  "60s",
		FailFastTimeout: "5s",

		Session: SessionParam{
			TcpNoDelay:      true,
			TcpKeepAlive:    true,
			KeepAlivePeriod: "180s",
			TcpRBufSize:     262144,
			TcpWBufSize:     65536,
			PkgWQSize:       1024,
			TcpReadTimeout:  "1s",
			TcpWriteTimeout: "5s",
			WaitTimeout:     "7s",
			MaxMsgLen:       1 << 20,
			SessionName:     "quokka-server",
		},
	}
}

// Load applies the config file named by args (when given) on top of the
// defaults and resolves every duration field. Files ending in .toml are
// parsed as TOML, everything else as INI.
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	if args != nil && args.ConfigPath != "" {
		var err error
		if strings.HasSuffix(args.ConfigPath, ".toml") {
			err = cfg.loadTOML(args.ConfigPath)
		} else {
			err = cfg.loadINI(args.ConfigPath)
		}
		if err != nil {
			return nil, err
		}
	}
	return cfg, cfg.resolveDurations()
}

func (cfg *Cfg) loadTOML(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	return toml.Unmarshal(data, cfg)
}

func (cfg *Cfg) loadINI(path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return err
	}

	server := file.Section("server")
	cfg.AppName = server.Key("app_name").MustString(cfg.AppName)
	cfg.BindAddress = server.Key("bind_address").MustString(cfg.BindAddress)
	cfg.Port = server.Key("port").MustInt(cfg.Port)

	storage := file.Section("storage")
	cfg.DataDir = storage.Key("data_dir").MustString(cfg.DataDir)
	cfg.PageSize = storage.Key("page_size").MustInt(cfg.PageSize)
	cfg.BufferPoolPages = storage.Key("buffer_pool_pages").MustInt(cfg.BufferPoolPages)
	cfg.WALDir = storage.Key("wal_dir").MustString(cfg.WALDir)
	cfg.CheckpointBytes = storage.Key("checkpoint_bytes").MustInt(cfg.CheckpointBytes)
	cfg.CompressionThreshold = storage.Key("compression_threshold").MustInt(cfg.CompressionThreshold)
	cfg.FlushAtCommit = storage.Key("flush_at_commit").MustBool(cfg.FlushAtCommit)
	cfg.LockTimeout = storage.Key("lock_timeout").MustString(cfg.LockTimeout)
	cfg.BTreeMinDegree = storage.Key("btree_min_degree").MustInt(cfg.BTreeMinDegree)

	logs := file.Section("logs")
	cfg.LogError = logs.Key("log_error").MustString(cfg.LogError)
	cfg.LogInfos = logs.Key("log_infos").MustString(cfg.LogInfos)
	cfg.LogLevel = logs.Key("log_level").MustString(cfg.LogLevel)

	session := file.Section("session")
	cfg.SessionNumber = session.Key("session_number").MustInt(cfg.SessionNumber)
	cfg.SessionTimeout = session.Key("session_timeout").MustString(cfg.SessionTimeout)
	cfg.FailFastTimeout = session.Key("fail_fast_timeout").MustString(cfg.FailFastTimeout)

	sp := file.Section("session_param")
	cfg.Session.TcpNoDelay = sp.Key("tcp_no_delay").MustBool(cfg.Session.TcpNoDelay)
	cfg.Session.TcpKeepAlive = sp.Key("tcp_keep_alive").MustBool(cfg.Session.TcpKeepAlive)
	cfg.Session.KeepAlivePeriod = sp.Key("keep_alive_period").MustString(cfg.Session.KeepAlivePeriod)
	cfg.Session.TcpRBufSize = sp.Key("tcp_r_buf_size").MustInt(cfg.Session.TcpRBufSize)
	cfg.Session.TcpWBufSize = sp.Key("tcp_w_buf_size").MustInt(cfg.Session.TcpWBufSize)
	cfg.Session.PkgWQSize = sp.Key("pkg_wq_size").MustInt(cfg.Session.PkgWQSize)
	cfg.Session.TcpReadTimeout = sp.Key("tcp_read_timeout").MustString(cfg.Session.TcpReadTimeout)
	cfg.Session.TcpWriteTimeout = sp.Key("tcp_write_timeout").MustString(cfg.Session.TcpWriteTimeout)
	cfg.Session.WaitTimeout = sp.Key("wait_timeout").MustString(cfg.Session.WaitTimeout)
	cfg.Session.MaxMsgLen = sp.Key("max_msg_len").MustInt(cfg.Session.MaxMsgLen)
	cfg.Session.SessionName = sp.Key("session_name").MustString(cfg.Session.SessionName)

	return nil
}

func (cfg *Cfg) resolveDurations() error {
	var err error
	if cfg.LockTimeoutDuration, err = time.ParseDuration(cfg.LockTimeout); err != nil {
		return err
	}
	if cfg.SessionTimeoutDuration, err = time.ParseDuration(cfg.SessionTimeout); err != nil {
		return err
	}
	if cfg.FailFastTimeoutDuration, err = time.ParseDuration(cfg.FailFastTimeout); err != nil {
		return err
	}
	s := &cfg.Session
	if s.KeepAlivePeriodDuration, err = time.ParseDuration(s.KeepAlivePeriod); err != nil {
		return err
	}
	if s.TcpReadTimeoutDuration, err = time.ParseDuration(s.TcpReadTimeout); err != nil {
		return err
	}
	if s.TcpWriteTimeoutDuration, err = time.ParseDuration(s.TcpWriteTimeout); err != nil {
		return err
	}
	if s.WaitTimeoutDuration, err = time.ParseDuration(s.WaitTimeout); err != nil {
		return err
	}
	return nil
}

// DatabaseFilePath returns the path of the single database file.
func (cfg *Cfg) DatabaseFilePath() string {
	return filepath.Join(cfg.DataDir, "quokka.db")
}

// WALFilePath returns the path of the write-ahead log file.
func (cfg *Cfg) WALFilePath() string {
	return filepath.Join(cfg.WALDir, "quokka.wal")
}
