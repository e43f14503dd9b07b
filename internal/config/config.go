package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	appdefaults "github.com/humanoid-lab/motion-bridge/config"
	"github.com/humanoid-lab/motion-bridge/internal/logger"
)

const (
	// MinMotionLengthSec and MaxMotionLengthSec bound the duration the
	// generation backend accepts for a single clip.
	MinMotionLengthSec = 0.1
	MaxMotionLengthSec = 9.8
)

// SystemConfig represents a systemConfig.
type SystemConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// GenerationConfig represents a generationConfig.
type GenerationConfig struct {
	BackendURL        string  `mapstructure:"backend_url"`
	RequestTimeoutSec int     `mapstructure:"request_timeout_sec"`
	DialTimeoutSec    int     `mapstructure:"dial_timeout_sec"`
	MaxPayloadBytes   int64   `mapstructure:"max_payload_bytes"`
	MotionLengthSec   float64 `mapstructure:"motion_length_sec"`
	InferenceSteps    int     `mapstructure:"inference_steps"`
	AdaptiveSmooth    bool    `mapstructure:"adaptive_smooth"`
	StaticStart       bool    `mapstructure:"static_start"`
	StaticFrames      int     `mapstructure:"static_frames"`
	BlendFrames       int     `mapstructure:"blend_frames"`
}

// RequestTimeout executes the requestTimeout method.
func (g GenerationConfig) RequestTimeout() time.Duration {
	return time.Duration(g.RequestTimeoutSec) * time.Second
}

// DialTimeout executes the dialTimeout method.
func (g GenerationConfig) DialTimeout() time.Duration {
	return time.Duration(g.DialTimeoutSec) * time.Second
}

// ExecutorConfig represents a executorConfig.
type ExecutorConfig struct {
	CommandHost  string `mapstructure:"command_host"`
	CommandPort  int    `mapstructure:"command_port"`
	FeedbackHost string `mapstructure:"feedback_host"`
	FeedbackPort int    `mapstructure:"feedback_port"`
	GetUpClip    string `mapstructure:"getup_clip"`
}

// SessionConfig represents a sessionConfig.
type SessionConfig struct {
	AutoDefaultOnComplete bool `mapstructure:"auto_default_on_complete"`
	RetainCount           int  `mapstructure:"retain_count"`
}

// StoreConfig represents a storeConfig.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// Config represents a config.
type Config struct {
	RootDir      string           `mapstructure:"-"`
	HTTPAddr     string           `mapstructure:"http_addr"`
	Generation   GenerationConfig `mapstructure:"generation"`
	Executor     ExecutorConfig   `mapstructure:"executor"`
	Session      SessionConfig    `mapstructure:"session"`
	Store        StoreConfig      `mapstructure:"store"`
	RobotProfile string           `mapstructure:"robot_profile"`
	SystemConfig SystemConfig     `mapstructure:"system_config"`
	Log          logger.Config    `mapstructure:"log"`
}

// Load executes the load function.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := newViper()
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finalize(v, rootDir)
}

// LoadConfig executes the loadConfig function.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("MB_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finalize(v, rootDir)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("mb")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func finalize(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	normalizeGeneration(&cfg.Generation)
	normalizeSession(&cfg.Session)
	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = 8102
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func derivePaths(cfg *Config) {
	cfg.Store.Dir = resolvePath(cfg.RootDir, cfg.Store.Dir, filepath.Join("data", "generated"))
	if cfg.RobotProfile != "" {
		cfg.RobotProfile = resolvePath(cfg.RootDir, cfg.RobotProfile, "")
	}
	if cfg.Log.File.Enabled {
		cfg.Log.File.Path = resolvePath(cfg.RootDir, cfg.Log.File.Path, filepath.Join("data", "logs"))
	}
}

func normalizeGeneration(gen *GenerationConfig) {
	if gen.RequestTimeoutSec <= 0 {
		gen.RequestTimeoutSec = 60
	}
	if gen.DialTimeoutSec <= 0 {
		gen.DialTimeoutSec = 10
	}
	if gen.MaxPayloadBytes <= 0 {
		gen.MaxPayloadBytes = 50 * 1024 * 1024
	}
	if gen.MotionLengthSec < MinMotionLengthSec {
		gen.MotionLengthSec = MinMotionLengthSec
	}
	if gen.MotionLengthSec > MaxMotionLengthSec {
		gen.MotionLengthSec = MaxMotionLengthSec
	}
	if gen.InferenceSteps <= 0 {
		gen.InferenceSteps = 10
	}
	if gen.StaticFrames < 0 {
		gen.StaticFrames = 0
	}
	if gen.BlendFrames < 0 {
		gen.BlendFrames = 0
	}
}

func normalizeSession(sess *SessionConfig) {
	if sess.RetainCount <= 0 {
		sess.RetainCount = 10
	}
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("MB_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
