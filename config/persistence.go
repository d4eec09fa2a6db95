package config

type PersistenceCfg struct {
	// Path is where the cache snapshot of the last finished sample is written.
	Path string `yaml:"dump_path"`

	// Level is the zstd encoder level: 1 fastest, 2 default, 3 better, 4 best.
	Level int `yaml:"level"`
}

func (cfg *PersistenceCfg) Enabled() bool {
	return cfg != nil && cfg.Path != ""
}
