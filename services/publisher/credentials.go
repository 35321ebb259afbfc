package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"agora-contentplane/pkg/config"
)

// PlatformCredential is the stored OAuth material per company per platform.
type PlatformCredential struct {
	ID           string     `gorm:"column:id;primaryKey;type:char(26)"`
	CompanyID    string     `gorm:"column:company_id;uniqueIndex:idx_credentials_company_platform;not null"`
	Platform     Platform   `gorm:"column:platform;type:varchar(30);uniqueIndex:idx_credentials_company_platform;not null"`
	AccountID    string     `gorm:"column:account_id"`
	AccessToken  string     `gorm:"column:access_token;type:text"`
	RefreshToken string     `gorm:"column:refresh_token;type:text"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`
}

func (PlatformCredential) TableName() string { return "platform_credentials" }

// CredentialStore persists OAuth tokens per company/platform.
type CredentialStore interface {
	Get(ctx context.Context, companyID string, platform Platform) (*Credentials, error)
	Save(ctx context.Context, companyID string, platform Platform, creds Credentials) error
}

// ErrCredentialsNotFound signals the company never connected the platform.
var ErrCredentialsNotFound = errors.New("platform credentials not found")

type gormCredentialStore struct {
	db   *gorm.DB
	node *snowflake.Node
	cfg  *config.Config
}

type CredentialStoreParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewCredentialStore(p CredentialStoreParams) CredentialStore {
	return &gormCredentialStore{db: p.DB, node: p.Node, cfg: p.Config}
}

func (s *gormCredentialStore) Get(ctx context.Context, companyID string, platform Platform) (*Credentials, error) {
	var record PlatformCredential
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND platform = ?", companyID, platform).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}

	// tokens come from the row, the app identity comes from config; adapters
	// need both to run a refresh grant
	app := oauthApp(s.cfg, platform)
	return &Credentials{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		ExpiresAt:    record.ExpiresAt,
		AccountID:    record.AccountID,
		ClientID:     app.ClientID,
		Secret:       app.ClientSecret,
	}, nil
}

func oauthApp(cfg *config.Config, platform Platform) config.OAuthApp {
	if cfg == nil {
		return config.OAuthApp{}
	}
	switch platform {
	case PlatformInstagram:
		return cfg.Social.Instagram
	case PlatformFacebook:
		return cfg.Social.Facebook
	case PlatformLinkedIn:
		return cfg.Social.LinkedIn
	}
	return config.OAuthApp{}
}

func (s *gormCredentialStore) Save(ctx context.Context, companyID string, platform Platform, creds Credentials) error {
	updates := map[string]any{
		"account_id":    creds.AccountID,
		"access_token":  creds.AccessToken,
		"refresh_token": creds.RefreshToken,
		"expires_at":    creds.ExpiresAt,
	}

	res := s.db.WithContext(ctx).Model(&PlatformCredential{}).
		Where("company_id = ? AND platform = ?", companyID, platform).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	record := PlatformCredential{
		ID:           s.node.Generate().String(),
		CompanyID:    companyID,
		Platform:     platform,
		AccountID:    creds.AccountID,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    creds.ExpiresAt,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}
