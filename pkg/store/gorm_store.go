package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"myndiary/pkg/domain"
)

const migrateLockID int64 = 73217321

type GormStoreOptions struct {
	SlowThreshold time.Duration
	MaxOpenConns  int
}

type GormStoreOption func(*GormStoreOptions)

// WithSlowThreshold sets the duration above which queries are logged as slow.
func WithSlowThreshold(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.SlowThreshold = d
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = n
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{SlowThreshold: time.Second}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ProfileModel{}, &EntryModel{}, &ChannelConfigModel{}, &ChannelMessageModel{}, &TemplateModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'diary_entries'
					AND constraint_name = 'diary_entries_user_id_fkey'
				) THEN
					ALTER TABLE diary_entries
					ADD CONSTRAINT diary_entries_user_id_fkey
					FOREIGN KEY (user_id) REFERENCES profiles(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'whatsapp_messages'
					AND constraint_name = 'whatsapp_messages_entry_id_fkey'
				) THEN
					ALTER TABLE whatsapp_messages
					ADD CONSTRAINT whatsapp_messages_entry_id_fkey
					FOREIGN KEY (entry_id) REFERENCES diary_entries(id) ON DELETE SET NULL;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure diary foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error, what string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s already exists", domain.ErrConflict, what)
	}
	return err
}

func first[M any](tx *gorm.DB, model *M) (bool, error) {
	if err := tx.First(model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetProfileByID returns a profile by its numeric id.
func (s *GormStore) GetProfileByID(ctx context.Context, id int64) (domain.Profile, bool, error) {
	var model ProfileModel
	ok, err := first(s.db.WithContext(ctx).Where("id = ?", id), &model)
	if !ok || err != nil {
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// GetProfileByUserID returns the profile bound to an identity subject.
func (s *GormStore) GetProfileByUserID(ctx context.Context, userID string) (domain.Profile, bool, error) {
	var model ProfileModel
	ok, err := first(s.db.WithContext(ctx).Where("user_id = ?", userID), &model)
	if !ok || err != nil {
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// GetProfileByIdentifier looks a profile up by email or phone number.
func (s *GormStore) GetProfileByIdentifier(ctx context.Context, identifier string) (domain.Profile, bool, error) {
	var model ProfileModel
	ok, err := first(s.db.WithContext(ctx).Where("phone_number = ?", identifier), &model)
	if !ok || err != nil {
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// CreateProfile inserts a profile and returns it with its id.
func (s *GormStore) CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	model := profileToModel(p)
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = nowUTC()
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Profile{}, translate(err, "profile")
	}
	return profileFromModel(model), nil
}

// CreateEntry inserts an entry and returns it with its id.
func (s *GormStore) CreateEntry(ctx context.Context, e domain.Entry) (domain.Entry, error) {
	model := entryToModel(e)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = nowUTC()
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Entry{}, translate(err, "entry")
	}
	return entryFromModel(model), nil
}

// GetEntry returns an entry regardless of owner.
func (s *GormStore) GetEntry(ctx context.Context, id int64) (domain.Entry, bool, error) {
	var model EntryModel
	ok, err := first(s.db.WithContext(ctx).Where("id = ?", id), &model)
	if !ok || err != nil {
		return domain.Entry{}, false, err
	}
	return entryFromModel(model), true, nil
}

// UpdateEntry rewrites the mutable columns of e where both id and owner match.
func (s *GormStore) UpdateEntry(ctx context.Context, e domain.Entry) (bool, error) {
	model := entryToModel(e)
	res := s.db.WithContext(ctx).Model(&EntryModel{}).
		Where("id = ? AND user_id = ?", e.ID, e.UserID).
		Updates(map[string]any{
			"type":       model.Type,
			"content":    model.Content,
			"image_url":  model.ImageURL,
			"audio_url":  model.AudioURL,
			"video_url":  model.VideoURL,
			"updated_at": model.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteEntry removes an entry where both id and owner match.
func (s *GormStore) DeleteEntry(ctx context.Context, id, profileID int64) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, profileID).Delete(&EntryModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListEntries returns the entries of a profile, newest first.
func (s *GormStore) ListEntries(ctx context.Context, profileID int64) ([]domain.Entry, error) {
	var models []EntryModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", profileID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Entry, 0, len(models))
	for _, m := range models {
		res = append(res, entryFromModel(m))
	}
	return res, nil
}

// CreateChannelConfig inserts the channel configuration of a user.
func (s *GormStore) CreateChannelConfig(ctx context.Context, cfg domain.ChannelConfig) error {
	model := channelConfigToModel(cfg)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return translate(err, "channel configuration")
	}
	return nil
}

// GetChannelConfigByUser returns the configuration owned by userID.
func (s *GormStore) GetChannelConfigByUser(ctx context.Context, userID string) (domain.ChannelConfig, bool, error) {
	var model ChannelConfigModel
	ok, err := first(s.db.WithContext(ctx).Where("user_id = ?", userID), &model)
	if !ok || err != nil {
		return domain.ChannelConfig{}, false, err
	}
	return channelConfigFromModel(model), true, nil
}

// GetChannelConfigByToken returns the configuration bound to a webhook token.
func (s *GormStore) GetChannelConfigByToken(ctx context.Context, token string) (domain.ChannelConfig, bool, error) {
	var model ChannelConfigModel
	ok, err := first(s.db.WithContext(ctx).Where("webhook_token = ?", token), &model)
	if !ok || err != nil {
		return domain.ChannelConfig{}, false, err
	}
	return channelConfigFromModel(model), true, nil
}

// FindActiveChannelConfig returns the oldest active configuration for a number.
func (s *GormStore) FindActiveChannelConfig(ctx context.Context, phoneNumber string) (domain.ChannelConfig, bool, error) {
	var model ChannelConfigModel
	ok, err := first(s.db.WithContext(ctx).
		Where("phone_number = ? AND active = ?", phoneNumber, true).
		Order("created_at ASC"), &model)
	if !ok || err != nil {
		return domain.ChannelConfig{}, false, err
	}
	return channelConfigFromModel(model), true, nil
}

// UpdateChannelConfig writes the editable fields of cfg for its owner.
func (s *GormStore) UpdateChannelConfig(ctx context.Context, cfg domain.ChannelConfig) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ChannelConfigModel{}).
		Where("user_id = ?", cfg.UserID).
		Updates(map[string]any{
			"phone_number": cfg.PhoneNumber,
			"active":       cfg.Active,
			"updated_at":   cfg.UpdatedAt.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendChannelMessage records a message.
func (s *GormStore) AppendChannelMessage(ctx context.Context, msg domain.ChannelMessage) error {
	model := channelMessageToModel(msg)
	return s.db.WithContext(ctx).Create(&model).Error
}

// LinkMessageEntry attaches the entry created from a message.
func (s *GormStore) LinkMessageEntry(ctx context.Context, messageID string, entryID int64) error {
	res := s.db.WithContext(ctx).Model(&ChannelMessageModel{}).
		Where("id = ?", messageID).
		Update("entry_id", entryID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	return nil
}

// ListChannelMessages returns messages addressed to a number, newest first.
func (s *GormStore) ListChannelMessages(ctx context.Context, to string, limit int) ([]domain.ChannelMessage, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	var models []ChannelMessageModel
	if err := s.db.WithContext(ctx).Where(`"to" = ?`, to).
		Order("timestamp DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChannelMessage, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, channelMessageFromModel(m))
	}
	return msgs, nil
}

// CreateTemplate inserts a message template.
func (s *GormStore) CreateTemplate(ctx context.Context, t domain.Template) error {
	model := templateToModel(t)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return translate(err, "template")
	}
	return nil
}

// GetTemplate returns a template owned by userID.
func (s *GormStore) GetTemplate(ctx context.Context, userID, id string) (domain.Template, bool, error) {
	var model TemplateModel
	ok, err := first(s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID), &model)
	if !ok || err != nil {
		return domain.Template{}, false, err
	}
	return templateFromModel(model), true, nil
}

// ListTemplates returns the templates of a user, newest first.
func (s *GormStore) ListTemplates(ctx context.Context, userID string) ([]domain.Template, error) {
	var models []TemplateModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Template, 0, len(models))
	for _, m := range models {
		res = append(res, templateFromModel(m))
	}
	return res, nil
}

// DeleteTemplate removes a template owned by userID.
func (s *GormStore) DeleteTemplate(ctx context.Context, userID, id string) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&TemplateModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func nullable(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		ID:          p.ID,
		UserID:      p.UserID,
		PhoneNumber: p.Identifier,
		Username:    p.Username,
		UpdatedAt:   p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		ID:         m.ID,
		UserID:     m.UserID,
		Identifier: m.PhoneNumber,
		Username:   m.Username,
		UpdatedAt:  m.UpdatedAt,
	}
}

func entryToModel(e domain.Entry) EntryModel {
	return EntryModel{
		ID:        e.ID,
		UserID:    e.UserID,
		Type:      e.Type.StoreValue(),
		Content:   e.Content,
		ImageURL:  nullable(e.ImageURL),
		AudioURL:  nullable(e.AudioURL),
		VideoURL:  nullable(e.VideoURL),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func entryFromModel(m EntryModel) domain.Entry {
	entryType, ok := domain.ParseEntryType(m.Type)
	if !ok {
		entryType = domain.EntryText
	}
	return domain.Entry{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      entryType,
		Content:   m.Content,
		ImageURL:  deref(m.ImageURL),
		AudioURL:  deref(m.AudioURL),
		VideoURL:  deref(m.VideoURL),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func channelConfigToModel(c domain.ChannelConfig) ChannelConfigModel {
	return ChannelConfigModel{
		ID:           c.ID,
		UserID:       c.UserID,
		PhoneNumber:  c.PhoneNumber,
		WebhookToken: c.WebhookToken,
		WebhookURL:   c.WebhookURL,
		Active:       c.Active,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func channelConfigFromModel(m ChannelConfigModel) domain.ChannelConfig {
	return domain.ChannelConfig{
		ID:           m.ID,
		UserID:       m.UserID,
		PhoneNumber:  m.PhoneNumber,
		WebhookToken: m.WebhookToken,
		WebhookURL:   m.WebhookURL,
		Active:       m.Active,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func channelMessageToModel(msg domain.ChannelMessage) ChannelMessageModel {
	var meta []byte
	if len(msg.Metadata) > 0 {
		meta, _ = json.Marshal(msg.Metadata)
	}
	return ChannelMessageModel{
		ID:          msg.ID,
		Direction:   string(msg.Direction),
		From:        msg.From,
		To:          msg.To,
		Body:        msg.Body,
		MediaURL:    nullable(msg.MediaURL),
		MediaType:   nullable(msg.MediaType),
		Status:      string(msg.Status),
		ProviderSID: nullable(msg.ProviderSID),
		Metadata:    meta,
		Timestamp:   msg.Timestamp,
		EntryID:     msg.EntryID,
		TemplateID:  nullable(msg.TemplateID),
	}
}

func channelMessageFromModel(m ChannelMessageModel) domain.ChannelMessage {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.ChannelMessage{
		ID:          m.ID,
		Direction:   domain.MessageDirection(m.Direction),
		From:        m.From,
		To:          m.To,
		Body:        m.Body,
		MediaURL:    deref(m.MediaURL),
		MediaType:   deref(m.MediaType),
		Status:      domain.MessageStatus(m.Status),
		ProviderSID: deref(m.ProviderSID),
		Metadata:    meta,
		Timestamp:   m.Timestamp,
		EntryID:     m.EntryID,
		TemplateID:  deref(m.TemplateID),
	}
}

func templateToModel(t domain.Template) TemplateModel {
	return TemplateModel{
		ID:        t.ID,
		UserID:    t.UserID,
		Name:      t.Name,
		Content:   t.Content,
		Type:      string(t.Type),
		EntryType: string(t.EntryType),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func templateFromModel(m TemplateModel) domain.Template {
	return domain.Template{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		Content:   m.Content,
		Type:      domain.TemplateType(m.Type),
		EntryType: domain.EntryType(m.EntryType),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
