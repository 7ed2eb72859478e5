package portal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/enrichment-portal/pkg/httpclient"
)

// Config はポータルの実行時設定。起動時に環境変数から一度だけ読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// APIBaseURL は上流APIのベースURL。
	APIBaseURL string
	// ClientID は上流APIのclient_credentialsグラントのクライアントID。
	ClientID string
	// ClientSecret は上流APIのクライアントシークレット。
	ClientSecret string
	// JWTSecret はエンドユーザーのセッションJWTを検証するシークレット。
	JWTSecret string
	// FrontendURL はCORSで許可するフロントエンドのオリジン。
	FrontendURL string
	// DatabasePath は通知を保存するSQLiteファイルのパス。
	DatabasePath string
	// LogLevel はログレベル。
	LogLevel string
	// LogFormat はログの出力形式。
	LogFormat string
	// TempDir はダウンロードしたファイルを一時的に置くディレクトリ。
	TempDir string
	// RequestTimeout は上流APIへの1回の呼び出しのタイムアウト。
	RequestTimeout time.Duration
	// UploadTimeout はファイルアップロード時の1回の呼び出しのタイムアウト。
	UploadTimeout time.Duration
	// MaxRetries は通信失敗時のリトライ回数。
	MaxRetries int
	// RetryDelay はリトライ前の待機時間。
	RetryDelay time.Duration
}

// 設定の既定値。
const (
	defaultPort          = "8080"
	defaultDatabasePath  = "/data/portal.db"
	defaultUploadTimeout = 30 * time.Minute
	devJWTSecret         = "dev-secret-key"
)

// LoadConfigFromEnv は環境変数から設定を読み込み、検証する。
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Port:         getEnvOr("PORT", defaultPort),
		APIBaseURL:   strings.TrimSpace(os.Getenv("ARISTOTE_API_BASE_URL")),
		ClientID:     os.Getenv("ARISTOTE_API_CLIENT_ID"),
		ClientSecret: os.Getenv("ARISTOTE_API_CLIENT_SECRET"),
		JWTSecret:    getEnvOr("JWT_SECRET", devJWTSecret),
		FrontendURL:  getEnvOr("FRONTEND_URL", "http://localhost:3000"),
		DatabasePath: getEnvOr("DATABASE_PATH", defaultDatabasePath),
		LogLevel:     getEnvOr("LOG_LEVEL", "info"),
		LogFormat:    getEnvOr("LOG_FORMAT", "json"),
		TempDir:      os.Getenv("TEMP_DIR"),
		MaxRetries:   httpclient.DefaultMaxRetries,
	}

	var errs []error
	var err error
	if cfg.RequestTimeout, err = durationEnv("API_TIMEOUT", httpclient.DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.UploadTimeout, err = durationEnv("UPLOAD_TIMEOUT", defaultUploadTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetryDelay, err = durationEnv("API_RETRY_DELAY", httpclient.DefaultRetryDelay); err != nil {
		errs = append(errs, err)
	}
	if v := strings.TrimSpace(os.Getenv("API_MAX_RETRIES")); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			errs = append(errs, fmt.Errorf("API_MAX_RETRIESが整数ではありません: %q", v))
		}
		cfg.MaxRetries = n
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は設定値を検証する。問題をすべてまとめて返す。
func (c Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("ARISTOTE_API_BASE_URLは必須です"))
	} else if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("ARISTOTE_API_BASE_URLが不正です: %q", c.APIBaseURL))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("ARISTOTE_API_CLIENT_IDは必須です"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("ARISTOTE_API_CLIENT_SECRETは必須です"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRETは必須です"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("API_MAX_RETRIESは0以上である必要があります: %d", c.MaxRetries))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("API_RETRY_DELAYは0以上である必要があります: %v", c.RetryDelay))
	}
	if c.RequestTimeout <= 0 || c.UploadTimeout <= 0 {
		errs = append(errs, errors.New("API_TIMEOUTとUPLOAD_TIMEOUTは正の値である必要があります"))
	}
	return errors.Join(errs...)
}

// getEnvOr は環境変数の値を返す。未設定または空の場合はfallbackを返す。
func getEnvOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// durationEnv は環境変数をtime.ParseDurationで解釈する。
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%sを期間として解釈できません: %q", key, v)
	}
	return d, nil
}
