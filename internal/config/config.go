package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "linetrace.cfg.json"

// SimConfig holds world loop settings.
type SimConfig struct {
	TickRate      int     `json:"tickRate" mapstructure:"tickRate"`
	LifetimeTicks int     `json:"lifetimeTicks" mapstructure:"lifetimeTicks"`
	FloorY        float64 `json:"floorY" mapstructure:"floorY"`
	ScriptPath    string  `json:"scriptPath" mapstructure:"scriptPath"`
	MaxSpawnQueue int     `json:"maxSpawnQueue" mapstructure:"maxSpawnQueue"`
}

// SensorConfig holds line sensor geometry and overwrite policy.
type SensorConfig struct {
	Width    float64 `json:"width" mapstructure:"width"`
	Height   float64 `json:"height" mapstructure:"height"`
	Offset   float64 `json:"offset" mapstructure:"offset"`
	TieBreak string  `json:"tieBreak" mapstructure:"tieBreak"`
	Epsilon  float64 `json:"epsilon" mapstructure:"epsilon"`
}

// ControlConfig holds the controller constants shared by all vehicles.
type ControlConfig struct {
	Kv            float64 `json:"kv" mapstructure:"kv"`
	SteeringClamp float64 `json:"steeringClamp" mapstructure:"steeringClamp"`
	Brake         float64 `json:"brake" mapstructure:"brake"`
}

// PhysicsConfig holds the built-in vehicle model parameters.
type PhysicsConfig struct {
	Wheelbase     float64 `json:"wheelbase" mapstructure:"wheelbase"`
	Mass          float64 `json:"mass" mapstructure:"mass"`
	RideHeight    float64 `json:"rideHeight" mapstructure:"rideHeight"`
	GroundSize    float64 `json:"groundSize" mapstructure:"groundSize"`
	Gravity       float64 `json:"gravity" mapstructure:"gravity"`
	LinearDamping float64 `json:"linearDamping" mapstructure:"linearDamping"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Listen           string        `json:"listen" mapstructure:"listen"`
	Room             string        `json:"room" mapstructure:"room"`
	SnapshotInterval time.Duration `json:"snapshotInterval" mapstructure:"snapshotInterval"`
}

// MemoryConfig holds in-memory/file storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
	Format         string `json:"format" mapstructure:"format"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	Type        string       `json:"type" mapstructure:"type"`
	RecordEvery int          `json:"recordEvery" mapstructure:"recordEvery"`
	Memory      MemoryConfig `json:"memory" mapstructure:"memory"`
	SQLite      SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// DBConfig holds Postgres connection settings
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// APIConfig holds results server settings
type APIConfig struct {
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
	Upload    bool   `json:"upload" mapstructure:"upload"`
}

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds InfluxDB connection settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// LogConfig holds local log output settings
type LogConfig struct {
	Level      string `json:"logLevel" mapstructure:"logLevel"`
	Dir        string `json:"logsDir" mapstructure:"logsDir"`
	MaxSizeMB  int    `json:"logMaxSizeMB" mapstructure:"logMaxSizeMB"`
	MaxBackups int    `json:"logMaxBackups" mapstructure:"logMaxBackups"`
}

// SetDefaults registers default values for every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("logMaxSizeMB", 50)
	viper.SetDefault("logMaxBackups", 5)
	viper.SetDefault("defaultTag", "practice")

	viper.SetDefault("sim.tickRate", 60)
	viper.SetDefault("sim.lifetimeTicks", 60*300)
	viper.SetDefault("sim.floorY", -1.0)
	viper.SetDefault("sim.scriptPath", "")
	viper.SetDefault("sim.maxSpawnQueue", 256)

	viper.SetDefault("sensor.width", 20.0)
	viper.SetDefault("sensor.height", 1.0)
	viper.SetDefault("sensor.offset", 5.0)
	viper.SetDefault("sensor.tieBreak", "largest")
	viper.SetDefault("sensor.epsilon", 1e-6)

	viper.SetDefault("control.kv", 10.0)
	viper.SetDefault("control.steeringClamp", 1.0)
	viper.SetDefault("control.brake", 0.0)

	viper.SetDefault("physics.wheelbase", 2.1)
	viper.SetDefault("physics.mass", 100.0)
	viper.SetDefault("physics.rideHeight", 0.4)
	viper.SetDefault("physics.groundSize", 1000.0)
	viper.SetDefault("physics.gravity", 9.8)
	viper.SetDefault("physics.linearDamping", 0.0)

	viper.SetDefault("server.listen", ":3001")
	viper.SetDefault("server.room", "")
	viper.SetDefault("server.snapshotInterval", "100ms")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.upload", false)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "linetrace")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "linetrace")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.recordEvery", 30)
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.memory.format", "json")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "linetrace")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Defaults stay in
// effect when the file cannot be read.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetSimConfig returns world loop settings.
func GetSimConfig() SimConfig {
	return SimConfig{
		TickRate:      viper.GetInt("sim.tickRate"),
		LifetimeTicks: viper.GetInt("sim.lifetimeTicks"),
		FloorY:        viper.GetFloat64("sim.floorY"),
		ScriptPath:    viper.GetString("sim.scriptPath"),
		MaxSpawnQueue: viper.GetInt("sim.maxSpawnQueue"),
	}
}

// GetSensorConfig returns sensor settings.
func GetSensorConfig() SensorConfig {
	return SensorConfig{
		Width:    viper.GetFloat64("sensor.width"),
		Height:   viper.GetFloat64("sensor.height"),
		Offset:   viper.GetFloat64("sensor.offset"),
		TieBreak: viper.GetString("sensor.tieBreak"),
		Epsilon:  viper.GetFloat64("sensor.epsilon"),
	}
}

// GetControlConfig returns controller constants.
func GetControlConfig() ControlConfig {
	return ControlConfig{
		Kv:            viper.GetFloat64("control.kv"),
		SteeringClamp: viper.GetFloat64("control.steeringClamp"),
		Brake:         viper.GetFloat64("control.brake"),
	}
}

// GetPhysicsConfig returns vehicle model parameters.
func GetPhysicsConfig() PhysicsConfig {
	return PhysicsConfig{
		Wheelbase:     viper.GetFloat64("physics.wheelbase"),
		Mass:          viper.GetFloat64("physics.mass"),
		RideHeight:    viper.GetFloat64("physics.rideHeight"),
		GroundSize:    viper.GetFloat64("physics.groundSize"),
		Gravity:       viper.GetFloat64("physics.gravity"),
		LinearDamping: viper.GetFloat64("physics.linearDamping"),
	}
}

// GetServerConfig returns listener settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Listen:           viper.GetString("server.listen"),
		Room:             viper.GetString("server.room"),
		SnapshotInterval: viper.GetDuration("server.snapshotInterval"),
	}
}

// GetStorageConfig returns the storage configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:        viper.GetString("storage.type"),
		RecordEvery: viper.GetInt("storage.recordEvery"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
			Format:         viper.GetString("storage.memory.format"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

// GetDBConfig returns Postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetAPIConfig returns results server settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
		Upload:    viper.GetBool("api.upload"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
	}
}

// GetGraylogConfig returns GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetLogConfig returns local log output settings.
func GetLogConfig() LogConfig {
	return LogConfig{
		Level:      viper.GetString("logLevel"),
		Dir:        viper.GetString("logsDir"),
		MaxSizeMB:  viper.GetInt("logMaxSizeMB"),
		MaxBackups: viper.GetInt("logMaxBackups"),
	}
}
