package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DockerEndpoint       string
	DockerTimeoutSeconds int

	BuildQueueName      string
	BuildTTLSeconds     int
	BuildLogWindow      int
	BuildTimeoutMinutes int
	WorkerCount         int

	AllowedOrigins []string
}

// fileConfig is the optional YAML overlay loaded from CONFIG_FILE.
// Only fields that commonly differ between deployments are exposed there;
// secrets stay in the environment.
type fileConfig struct {
	APIPort        string   `yaml:"api_port"`
	RedisAddr      string   `yaml:"redis_addr"`
	DockerEndpoint string   `yaml:"docker_endpoint"`
	BuildQueueName string   `yaml:"build_queue_name"`
	WorkerCount    int      `yaml:"worker_count"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = &Config{
		APIPort:              getEnv("API_PORT", "8080"),
		JWTKey:               []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:               time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBUser:               getEnv("DB_USER", "user"),
		DBPassword:           getEnv("DB_PASSWORD", "password"),
		DBName:               getEnv("DB_NAME", "mcp_gateway_db"),
		DBSslMode:            getEnv("DB_SSLMODE", "disable"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvAsInt("REDIS_DB", 0),
		DockerEndpoint:       getEnv("DOCKER_ENDPOINT", "unix:///var/run/docker.sock"),
		DockerTimeoutSeconds: getEnvAsInt("DOCKER_TIMEOUT_SECONDS", 30),
		BuildQueueName:       getEnv("BUILD_QUEUE_NAME", "build_queue"),
		BuildTTLSeconds:      getEnvAsInt("BUILD_TTL_SECONDS", 3600),
		BuildLogWindow:       getEnvAsInt("BUILD_LOG_WINDOW", 100),
		BuildTimeoutMinutes:  getEnvAsInt("BUILD_TIMEOUT_MINUTES", 30),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),
		AllowedOrigins:       []string{getEnv("ALLOWED_ORIGIN", "http://localhost:3000")},
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		applyFileOverlay(path)
	}

	AppConfig.DBConnStr = "host=" + AppConfig.DBHost +
		" port=" + AppConfig.DBPort +
		" user=" + AppConfig.DBUser +
		" password=" + AppConfig.DBPassword +
		" dbname=" + AppConfig.DBName +
		" sslmode=" + AppConfig.DBSslMode
}

func applyFileOverlay(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WARN: Could not read config file %s: %v", path, err)
		return
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		log.Printf("WARN: Could not parse config file %s: %v", path, err)
		return
	}
	if fc.APIPort != "" {
		AppConfig.APIPort = fc.APIPort
	}
	if fc.RedisAddr != "" {
		AppConfig.RedisAddr = fc.RedisAddr
	}
	if fc.DockerEndpoint != "" {
		AppConfig.DockerEndpoint = fc.DockerEndpoint
	}
	if fc.BuildQueueName != "" {
		AppConfig.BuildQueueName = fc.BuildQueueName
	}
	if fc.WorkerCount > 0 {
		AppConfig.WorkerCount = fc.WorkerCount
	}
	if len(fc.AllowedOrigins) > 0 {
		AppConfig.AllowedOrigins = fc.AllowedOrigins
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
