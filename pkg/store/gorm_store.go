package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"leadhero/pkg/domain"
)

const migrateLockID int64 = 51734021

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &FormModel{}, &LeadModel{}, &FormContentModel{}, &SystemSettingModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM leads l
				WHERE NOT EXISTS (SELECT 1 FROM forms f WHERE f.id = l.form_id);
				DELETE FROM form_content c
				WHERE NOT EXISTS (SELECT 1 FROM forms f WHERE f.id = c.form_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'leads'
					AND constraint_name = 'leads_form_id_fkey'
				) THEN
					ALTER TABLE leads
					ADD CONSTRAINT leads_form_id_fkey
					FOREIGN KEY (form_id) REFERENCES forms(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'form_content'
					AND constraint_name = 'form_content_form_id_fkey'
				) THEN
					ALTER TABLE form_content
					ADD CONSTRAINT form_content_form_id_fkey
					FOREIGN KEY (form_id) REFERENCES forms(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure form foreign keys: %w", err)
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

// isUniqueViolation reports whether err came from a unique constraint.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

func isForeignKeyViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "role", "max_leads", "max_forms", "can_publish_forms", "updated_at"}),
	}).Create(&model).Error
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

type userSummaryRow struct {
	UserModel `gorm:"embedded"`
	FormCount int
	LeadCount int
}

// ListUserSummaries returns all users with their form count and the sum of
// their forms' lead counters.
func (s *GormStore) ListUserSummaries(ctx context.Context) ([]domain.UserSummary, error) {
	var rows []userSummaryRow
	if err := s.db.WithContext(ctx).
		Table("users AS u").
		Select("u.*, COUNT(f.id) AS form_count, COALESCE(SUM(f.lead_count), 0) AS lead_count").
		Joins("LEFT JOIN forms f ON f.owner_id = u.id").
		Group("u.id").
		Order("u.created_at ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.UserSummary, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.UserSummary{
			User:      userFromModel(r.UserModel),
			FormCount: r.FormCount,
			LeadCount: r.LeadCount,
		})
	}
	return res, nil
}

// CreateForm inserts a form together with its initial content rows.
func (s *GormStore) CreateForm(ctx context.Context, f domain.Form, content []domain.FormContent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := formToModel(f)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if len(content) == 0 {
			return nil
		}
		now := time.Now().UTC()
		rows := make([]FormContentModel, 0, len(content))
		for _, c := range content {
			rows = append(rows, FormContentModel{FormID: f.ID, Key: c.Key, Value: c.Value, UpdatedAt: now})
		}
		return tx.Create(&rows).Error
	})
}

// UpdateForm persists name and activation state. The lead counter is never
// written here.
func (s *GormStore) UpdateForm(ctx context.Context, f domain.Form) error {
	return s.db.WithContext(ctx).Model(&FormModel{}).
		Where("id = ?", f.ID).
		Updates(map[string]any{
			"name":       f.Name,
			"is_active":  f.IsActive,
			"updated_at": time.Now().UTC(),
		}).Error
}

// GetForm retrieves a form.
func (s *GormStore) GetForm(ctx context.Context, id string) (domain.Form, bool, error) {
	var model FormModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Form{}, false, nil
		}
		return domain.Form{}, false, err
	}
	return formFromModel(model), true, nil
}

// ListFormsByOwner returns forms filtered by owner.
func (s *GormStore) ListFormsByOwner(ctx context.Context, ownerID string) ([]domain.Form, error) {
	var models []FormModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Form, 0, len(models))
	for _, m := range models {
		res = append(res, formFromModel(m))
	}
	return res, nil
}

// CountFormsByOwner returns the number of forms an owner has.
func (s *GormStore) CountFormsByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&FormModel{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// IncrementLeadCount bumps the form counter with a single UPDATE statement.
func (s *GormStore) IncrementLeadCount(ctx context.Context, formID string) error {
	res := s.db.WithContext(ctx).Model(&FormModel{}).
		Where("id = ?", formID).
		UpdateColumn("lead_count", gorm.Expr("lead_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFormMissing
	}
	return nil
}

// SumLeadCounts returns the sum of lead counters over all forms of an owner.
func (s *GormStore) SumLeadCounts(ctx context.Context, ownerID string) (int, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&FormModel{}).
		Select("COALESCE(SUM(lead_count), 0)").
		Where("owner_id = ?", ownerID).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// ReconcileLeadCounts rewrites lead counters from the stored visitor leads.
// An empty formID reconciles every form.
func (s *GormStore) ReconcileLeadCounts(ctx context.Context, formID string, dryRun bool) ([]CounterCorrection, error) {
	var corrections []CounterCorrection
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var forms []FormModel
		q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Order("created_at ASC")
		if formID != "" {
			q = q.Where("id = ?", formID)
		}
		if err := q.Find(&forms).Error; err != nil {
			return err
		}
		for _, f := range forms {
			var actual int64
			if err := tx.Model(&LeadModel{}).
				Where("form_id = ? AND origin = ?", f.ID, string(domain.OriginVisitor)).
				Count(&actual).Error; err != nil {
				return err
			}
			if int(actual) == f.LeadCount {
				continue
			}
			corrections = append(corrections, CounterCorrection{FormID: f.ID, Before: f.LeadCount, After: int(actual)})
			if dryRun {
				continue
			}
			if err := tx.Model(&FormModel{}).Where("id = ?", f.ID).
				UpdateColumn("lead_count", actual).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return corrections, nil
}

// ListFormContent returns the stored content rows of a form.
func (s *GormStore) ListFormContent(ctx context.Context, formID string) ([]domain.FormContent, error) {
	var models []FormContentModel
	if err := s.db.WithContext(ctx).Where("form_id = ?", formID).Order("key ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FormContent, 0, len(models))
	for _, m := range models {
		res = append(res, domain.FormContent{FormID: m.FormID, Key: m.Key, Value: m.Value})
	}
	return res, nil
}

// SetFormContent upserts content values for a form.
func (s *GormStore) SetFormContent(ctx context.Context, formID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]FormContentModel, 0, len(values))
	for k, v := range values {
		rows = append(rows, FormContentModel{FormID: formID, Key: k, Value: v, UpdatedAt: now})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "form_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
	if isForeignKeyViolation(err) {
		return ErrFormMissing
	}
	return err
}

// GetSettings returns system settings for the given keys. Missing keys are
// absent from the result.
func (s *GormStore) GetSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	var models []SystemSettingModel
	q := s.db.WithContext(ctx)
	if len(keys) > 0 {
		q = q.Where("key IN ?", keys)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make(map[string]string, len(models))
	for _, m := range models {
		res[m.Key] = m.Value
	}
	return res, nil
}

// SetSettings upserts system settings.
func (s *GormStore) SetSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]SystemSettingModel, 0, len(values))
	for k, v := range values {
		rows = append(rows, SystemSettingModel{Key: k, Value: v, UpdatedAt: now})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
}

// InsertLead creates a lead. A (form_id, email) conflict returns ErrDuplicateLead.
func (s *GormStore) InsertLead(ctx context.Context, l domain.Lead) error {
	model := leadToModel(l)
	err := s.db.WithContext(ctx).Create(&model).Error
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return ErrDuplicateLead
	case isForeignKeyViolation(err):
		return ErrFormMissing
	default:
		return err
	}
}

// DeleteLead removes the lead stored for (formID, email), if any.
// ReplaceLead upserts on (form_id, email) so concurrent replacements never
// collide on the unique index. The row takes the new lead's id.
func (s *GormStore) ReplaceLead(ctx context.Context, l domain.Lead) error {
	model := leadToModel(l)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "form_id"}, {Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"id", "url", "result_text", "result_image_url", "status", "origin", "meta", "created_at",
		}),
	}).Create(&model).Error
	if isForeignKeyViolation(err) {
		return ErrFormMissing
	}
	return err
}

func (s *GormStore) DeleteLead(ctx context.Context, formID, email string) error {
	return s.db.WithContext(ctx).Delete(&LeadModel{}, "form_id = ? AND email = ?", formID, email).Error
}

// FindLead looks up the lead stored for (formID, email).
func (s *GormStore) FindLead(ctx context.Context, formID, email string) (domain.Lead, bool, error) {
	var model LeadModel
	if err := s.db.WithContext(ctx).Where("form_id = ? AND email = ?", formID, email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Lead{}, false, nil
		}
		return domain.Lead{}, false, err
	}
	return leadFromModel(model), true, nil
}

// GetLead retrieves a lead by ID.
func (s *GormStore) GetLead(ctx context.Context, id string) (domain.Lead, bool, error) {
	var model LeadModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Lead{}, false, nil
		}
		return domain.Lead{}, false, err
	}
	return leadFromModel(model), true, nil
}

// DeleteLeadByID removes a lead. Form counters are left untouched.
func (s *GormStore) DeleteLeadByID(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&LeadModel{}, "id = ?", id).Error
}

// ListLeadsByForm returns leads of a form, newest first.
func (s *GormStore) ListLeadsByForm(ctx context.Context, formID string) ([]domain.Lead, error) {
	var models []LeadModel
	if err := s.db.WithContext(ctx).Where("form_id = ?", formID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Lead, 0, len(models))
	for _, m := range models {
		res = append(res, leadFromModel(m))
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:              u.ID,
		Email:           u.Email,
		PasswordHash:    u.PasswordHash,
		Role:            string(u.Role),
		MaxLeads:        u.MaxLeads,
		MaxForms:        u.MaxForms,
		CanPublishForms: u.CanPublishForms,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:              m.ID,
		Email:           m.Email,
		PasswordHash:    m.PasswordHash,
		Role:            role,
		MaxLeads:        m.MaxLeads,
		MaxForms:        m.MaxForms,
		CanPublishForms: m.CanPublishForms,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func formToModel(f domain.Form) FormModel {
	return FormModel{
		ID:        f.ID,
		OwnerID:   f.OwnerID,
		Name:      f.Name,
		IsActive:  f.IsActive,
		LeadCount: f.LeadCount,
		LeadLimit: f.LeadLimit,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func formFromModel(m FormModel) domain.Form {
	return domain.Form{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Name:      m.Name,
		IsActive:  m.IsActive,
		LeadCount: m.LeadCount,
		LeadLimit: m.LeadLimit,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func leadToModel(l domain.Lead) LeadModel {
	var meta []byte
	if len(l.Meta) > 0 {
		meta, _ = json.Marshal(l.Meta)
	}
	origin := strings.TrimSpace(string(l.Origin))
	if origin == "" {
		origin = string(domain.OriginVisitor)
	}
	return LeadModel{
		ID:             l.ID,
		FormID:         l.FormID,
		Email:          l.Email,
		URL:            l.URL,
		ResultText:     l.ResultText,
		ResultImageURL: l.ResultImageURL,
		Status:         string(l.Status),
		Origin:         origin,
		Meta:           meta,
		CreatedAt:      l.CreatedAt,
	}
}

func leadFromModel(m LeadModel) domain.Lead {
	var meta map[string]string
	if len(m.Meta) > 0 {
		if err := json.Unmarshal(m.Meta, &meta); err != nil {
			slog.Warn("lead meta decode failed", "lead_id", m.ID, "form_id", m.FormID, "err", err)
			meta = nil
		}
	}
	return domain.Lead{
		ID:             m.ID,
		FormID:         m.FormID,
		Email:          m.Email,
		URL:            m.URL,
		ResultText:     m.ResultText,
		ResultImageURL: m.ResultImageURL,
		Status:         domain.LeadStatus(m.Status),
		Origin:         domain.LeadOrigin(m.Origin),
		Meta:           meta,
		CreatedAt:      m.CreatedAt,
	}
}
