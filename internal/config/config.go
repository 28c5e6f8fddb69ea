package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	HTTPPort  string
	HTTPSPort string
	Domain    string
	TURNPort  int
	TURNRealm string
	DBPath    string
	JWTSecret string
	VAPIDKeys *VAPIDKeys

	// RoomTTLMinutes enables eviction of abandoned classroom rooms. Zero
	// keeps rooms for the process lifetime.
	RoomTTLMinutes int

	// HTTP-only mode fields
	HTTPOnly    bool
	FrontendURI string
}

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// LoadConfigFromJSON loads configuration from a config.json next to the executable.
func LoadConfigFromJSON() (*Config, error) {
	configPath := getConfigFilePath()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config.json: %w", err)
	}

	return &cfg, nil
}

func getConfigFilePath() string {
	execPath, err := os.Executable()
	if err != nil {
		return "config.json"
	}
	execDir := filepath.Dir(execPath)
	return filepath.Join(execDir, "config.json")
}

// Load loads configuration from config.json (if present) with environment
// variables filling the gaps, then applies command-line flag overrides.
func Load(httpOnly *bool) *Config {
	var cfg *Config

	if savedCfg, err := LoadConfigFromJSON(); err == nil {
		cfg = savedCfg
		fmt.Println("NOTE: Custom configuration loaded from config.json")
	} else {
		cfg = &Config{}
	}

	if cfg.HTTPPort == "" {
		cfg.HTTPPort = getEnv("HTTP_PORT", "8080")
	}
	if cfg.HTTPSPort == "" {
		cfg.HTTPSPort = getEnv("HTTPS_PORT", "8443")
	}
	if cfg.TURNPort == 0 {
		cfg.TURNPort = getEnvInt("TURN_PORT", 3478)
	}
	if cfg.TURNRealm == "" {
		cfg.TURNRealm = getEnv("TURN_REALM", "tutorlane")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = getEnv("DB_PATH", "tutorlane.db")
	}
	if cfg.RoomTTLMinutes == 0 {
		cfg.RoomTTLMinutes = getEnvInt("ROOM_TTL_MINUTES", 0)
	}
	if cfg.Domain == "" {
		cfg.Domain = getEnv("DOMAIN", "localhost")
	}
	if cfg.FrontendURI == "" {
		cfg.FrontendURI = getEnv("FRONTEND_URI", "")
	}

	if httpOnly != nil && *httpOnly {
		cfg.HTTPOnly = true
	}

	// Secrets always come from files/env, never from config.json.
	cfg.JWTSecret = loadOrGenerateJWTSecret()
	cfg.VAPIDKeys = loadVAPIDKeys()

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	return base64.URLEncoding.EncodeToString(bytes)
}

func loadOrGenerateJWTSecret() string {
	// Environment variable has highest priority.
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return secret
	}

	keysDir := getKeysDirectory()
	secretFile := filepath.Join(keysDir, "jwt-secret.key")

	if secretData, err := os.ReadFile(secretFile); err == nil {
		secret := strings.TrimSpace(string(secretData))
		if secret != "" {
			return secret
		}
	}

	secret := generateRandomSecret()

	if err := os.MkdirAll(keysDir, 0700); err == nil {
		if err := os.WriteFile(secretFile, []byte(secret), 0600); err == nil {
			fmt.Printf("JWT secret saved to: %s\n", secretFile)
		} else {
			fmt.Printf("Warning: failed to save JWT secret to disk: %v\n", err)
			fmt.Println("Secret will be regenerated on next restart unless set via JWT_SECRET")
		}
	}

	return secret
}

func loadVAPIDKeys() *VAPIDKeys {
	// Environment variables have highest priority.
	publicKey := os.Getenv("VAPID_PUBLIC_KEY")
	privateKey := os.Getenv("VAPID_PRIVATE_KEY")

	if publicKey != "" && privateKey != "" {
		return &VAPIDKeys{
			PublicKey:  publicKey,
			PrivateKey: privateKey,
			Subject:    getEnv("VAPID_SUBJECT", "mailto:admin@tutorlane.app"),
		}
	}

	keysDir := getKeysDirectory()
	publicKeyFile := filepath.Join(keysDir, "vapid-public.key")
	privateKeyFile := filepath.Join(keysDir, "vapid-private.key")
	subjectFile := filepath.Join(keysDir, "vapid-subject.key")

	if publicKeyData, err := os.ReadFile(publicKeyFile); err == nil {
		if privateKeyData, err := os.ReadFile(privateKeyFile); err == nil {
			subject := getEnv("VAPID_SUBJECT", "mailto:admin@tutorlane.app")
			if subjectData, err := os.ReadFile(subjectFile); err == nil {
				if s := strings.TrimSpace(string(subjectData)); s != "" {
					subject = s
				}
			}
			return &VAPIDKeys{
				PublicKey:  strings.TrimSpace(string(publicKeyData)),
				PrivateKey: strings.TrimSpace(string(privateKeyData)),
				Subject:    subject,
			}
		}
	}

	// Generate new VAPID keys. The webpush library expects the raw 32-byte
	// private key and the uncompressed 65-byte public point, both base64
	// URL-safe without padding.
	privateKeyECDSA, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic("failed to generate VAPID keys: " + err.Error())
	}

	publicKeyBytes := make([]byte, 65)
	publicKeyBytes[0] = 0x04
	privateKeyECDSA.PublicKey.X.FillBytes(publicKeyBytes[1:33])
	privateKeyECDSA.PublicKey.Y.FillBytes(publicKeyBytes[33:65])

	privateKeyBytes := make([]byte, 32)
	privateKeyECDSA.D.FillBytes(privateKeyBytes)

	keys := &VAPIDKeys{
		PublicKey:  base64.RawURLEncoding.EncodeToString(publicKeyBytes),
		PrivateKey: base64.RawURLEncoding.EncodeToString(privateKeyBytes),
		Subject:    getEnv("VAPID_SUBJECT", "mailto:admin@tutorlane.app"),
	}

	if err := saveVAPIDKeys(keysDir, keys); err != nil {
		fmt.Printf("Warning: failed to save VAPID keys to disk: %v\n", err)
		fmt.Println("Keys will be regenerated on next restart unless set via environment variables")
	}

	return keys
}

func saveVAPIDKeys(keysDir string, keys *VAPIDKeys) error {
	if err := os.MkdirAll(keysDir, 0700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(keysDir, "vapid-public.key"), []byte(keys.PublicKey), 0600); err != nil {
		return fmt.Errorf("failed to save public key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(keysDir, "vapid-private.key"), []byte(keys.PrivateKey), 0600); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(keysDir, "vapid-subject.key"), []byte(keys.Subject), 0600); err != nil {
		return fmt.Errorf("failed to save subject: %w", err)
	}

	return nil
}

func getKeysDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "keys"
	}
	execDir := filepath.Dir(execPath)
	return filepath.Join(execDir, "keys")
}

// GetCertsDirectory is where autocert caches certificates and where the
// self-signed fallback looks for material.
func GetCertsDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "certs"
	}
	execDir := filepath.Dir(execPath)
	return filepath.Join(execDir, "certs")
}
