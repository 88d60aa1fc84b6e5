package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"

	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver string `envconfig:"DRIVER" split_words:"true" default:"sqlite"`
	DSN    string `envconfig:"DSN" split_words:"true" default:"file:healthguard.db?cache=shared&_busy_timeout=5000"`
}

// Store persists patient records through bun on Postgres or SQLite.
type Store struct {
	db *bun.DB
}

var _ statex.Store = (*Store)(nil)

func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("store dsn is required")
	}

	var db *bun.DB
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPostgres:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case DriverSQLite:
		sqldb, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one connection keeps :memory: databases alive and serializes writers
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*patientModel)(nil),
		(*medicationModel)(nil),
		(*intakeModel)(nil),
		(*symptomModel)(nil),
		(*turnModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	indexes := []*bun.CreateIndexQuery{
		s.db.NewCreateIndex().Model((*intakeModel)(nil)).Index("medication_intakes_medication_idx").Column("medication_id", "seq"),
		s.db.NewCreateIndex().Model((*symptomModel)(nil)).Index("symptom_entries_patient_idx").Column("patient_id", "label", "recorded_at"),
		s.db.NewCreateIndex().Model((*turnModel)(nil)).Index("conversation_turns_patient_idx").Column("patient_id", "seq"),
		s.db.NewCreateIndex().Model((*turnModel)(nil)).Index("conversation_turns_dedup_idx").Unique().Column("patient_id", "dedup_key").Where("dedup_key <> ''"),
	}
	for _, q := range indexes {
		if _, err := q.IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (s *Store) EnsurePatient(ctx context.Context, id, displayName string, now time.Time) (*statex.Patient, bool, error) {
	id = strings.TrimSpace(id)
	if strings.TrimSpace(displayName) == "" {
		displayName = id
	}
	p := statex.Patient{ID: id, DisplayName: strings.TrimSpace(displayName), CreatedAt: now.UTC()}
	if err := statex.Validate(&p); err != nil {
		return nil, false, err
	}

	m := &patientModel{ID: p.ID, DisplayName: p.DisplayName, CreatedAt: p.CreatedAt}
	res, err := s.db.NewInsert().Model(m).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("insert patient: %w", err)
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	out, err := s.GetPatient(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *Store) GetPatient(ctx context.Context, id string) (*statex.Patient, error) {
	var m patientModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", strings.TrimSpace(id)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", statex.ErrPatientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select patient: %w", err)
	}
	return &statex.Patient{ID: m.ID, DisplayName: m.DisplayName, CreatedAt: m.CreatedAt.UTC()}, nil
}

func (s *Store) AddMedication(ctx context.Context, rec *statex.MedicationRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: medication is nil", statex.ErrInvalidRecord)
	}
	if err := statex.Validate(rec); err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockPatient(ctx, tx, rec.PatientID); err != nil {
			return err
		}
		exists, err := tx.NewSelect().Model((*medicationModel)(nil)).
			Where("patient_id = ? AND name_key = ?", rec.PatientID, statex.NameKey(rec.Name)).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check medication: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s", statex.ErrMedicationExists, rec.Name)
		}
		if _, err := tx.NewInsert().Model(toMedicationModel(rec)).Exec(ctx); err != nil {
			return fmt.Errorf("insert medication: %w", err)
		}
		for _, in := range rec.Intakes {
			if err := insertIntake(ctx, tx, rec.ID, in); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UpdateMedication(ctx context.Context, patientID, name string, patch statex.MedicationPatch, now time.Time) (*statex.MedicationRecord, error) {
	var out *statex.MedicationRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockPatient(ctx, tx, patientID); err != nil {
			return err
		}
		rec, err := loadMedication(ctx, tx, patientID, name)
		if err != nil {
			return err
		}
		statex.ApplyPatch(rec, patch, now)
		if err := statex.Validate(rec); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().Model(toMedicationModel(rec)).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("update medication: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetMedication(ctx context.Context, patientID, name string) (*statex.MedicationRecord, error) {
	return loadMedication(ctx, s.db, patientID, name)
}

func (s *Store) ListMedications(ctx context.Context, patientID string) ([]statex.MedicationRecord, error) {
	if _, err := s.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	var meds []medicationModel
	if err := s.db.NewSelect().Model(&meds).
		Where("patient_id = ?", patientID).
		Order("name_key ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("select medications: %w", err)
	}
	if len(meds) == 0 {
		return []statex.MedicationRecord{}, nil
	}

	ids := make([]string, 0, len(meds))
	for _, m := range meds {
		ids = append(ids, m.ID)
	}
	var intakes []intakeModel
	if err := s.db.NewSelect().Model(&intakes).
		Where("medication_id IN (?)", bun.In(ids)).
		Order("seq ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("select intakes: %w", err)
	}
	byMed := make(map[string][]intakeModel, len(meds))
	for _, in := range intakes {
		byMed[in.MedicationID] = append(byMed[in.MedicationID], in)
	}

	out := make([]statex.MedicationRecord, 0, len(meds))
	for i := range meds {
		out = append(out, meds[i].toRecord(byMed[meds[i].ID]))
	}
	return out, nil
}

func (s *Store) AppendIntake(ctx context.Context, patientID, name string, intake statex.Intake) (*statex.MedicationRecord, error) {
	if err := statex.Validate(&intake); err != nil {
		return nil, err
	}

	var out *statex.MedicationRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockPatient(ctx, tx, patientID); err != nil {
			return err
		}
		rec, err := loadMedication(ctx, tx, patientID, name)
		if err != nil {
			return err
		}
		if err := insertIntake(ctx, tx, rec.ID, intake); err != nil {
			return err
		}
		rec.UpdatedAt = intake.RecordedAt.UTC()
		if _, err := tx.NewUpdate().Model((*medicationModel)(nil)).
			Set("updated_at = ?", rec.UpdatedAt).
			Where("id = ?", rec.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("touch medication: %w", err)
		}
		rec.Intakes = append(rec.Intakes, intake)
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AppendSymptom(ctx context.Context, entry *statex.SymptomEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: symptom entry is nil", statex.ErrInvalidRecord)
	}
	if err := statex.Validate(entry); err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockPatient(ctx, tx, entry.PatientID); err != nil {
			return err
		}
		m := &symptomModel{
			ID:         entry.ID,
			PatientID:  entry.PatientID,
			Label:      entry.Label,
			Severity:   entry.Severity,
			ScaleMax:   entry.ScaleMax,
			Note:       entry.Note,
			RecordedAt: entry.RecordedAt.UTC(),
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("insert symptom: %w", err)
		}
		return nil
	})
}

func (s *Store) QuerySymptoms(ctx context.Context, q statex.SymptomQuery) ([]statex.SymptomEntry, error) {
	if _, err := s.GetPatient(ctx, q.PatientID); err != nil {
		return nil, err
	}

	var rows []symptomModel
	query := s.db.NewSelect().Model(&rows).Where("patient_id = ?", q.PatientID)
	if label := statex.NormalizeLabel(q.Label); label != "" {
		query = query.Where("label = ?", label)
	}
	if !q.From.IsZero() {
		query = query.Where("recorded_at >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		query = query.Where("recorded_at <= ?", q.To.UTC())
	}
	if err := query.Order("recorded_at ASC", "seq ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select symptoms: %w", err)
	}

	out := make([]statex.SymptomEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntry())
	}
	return out, nil
}

func (s *Store) AppendTurn(ctx context.Context, turn *statex.ConversationTurn) (bool, error) {
	if turn == nil {
		return false, fmt.Errorf("%w: turn is nil", statex.ErrInvalidRecord)
	}
	if err := statex.Validate(turn); err != nil {
		return false, err
	}

	appended := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockPatient(ctx, tx, turn.PatientID); err != nil {
			return err
		}
		if turn.DedupKey != "" {
			exists, err := tx.NewSelect().Model((*turnModel)(nil)).
				Where("patient_id = ? AND dedup_key = ?", turn.PatientID, turn.DedupKey).
				Exists(ctx)
			if err != nil {
				return fmt.Errorf("check turn dedup: %w", err)
			}
			if exists {
				return nil
			}
		}
		m := &turnModel{
			ID:        turn.ID,
			PatientID: turn.PatientID,
			Role:      string(turn.Role),
			Text:      turn.Text,
			DedupKey:  turn.DedupKey,
			Trace:     string(turn.Trace),
			CreatedAt: turn.CreatedAt.UTC(),
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		appended = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return appended, nil
}

func (s *Store) RecentTurns(ctx context.Context, patientID string, limit int) ([]statex.ConversationTurn, error) {
	if _, err := s.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	var rows []turnModel
	query := s.db.NewSelect().Model(&rows).Where("patient_id = ?", patientID).Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("select turns: %w", err)
	}

	out := make([]statex.ConversationTurn, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toTurn()
	}
	return out, nil
}

func (s *Store) FindTurn(ctx context.Context, patientID, dedupKey string) (*statex.ConversationTurn, error) {
	if strings.TrimSpace(dedupKey) == "" {
		return nil, statex.ErrTurnNotFound
	}
	var m turnModel
	err := s.db.NewSelect().Model(&m).
		Where("patient_id = ? AND dedup_key = ?", patientID, dedupKey).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, statex.ErrTurnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select turn: %w", err)
	}
	t := m.toTurn()
	return &t, nil
}

func (s *Store) lockPatient(ctx context.Context, tx bun.Tx, patientID string) error {
	var p patientModel
	q := tx.NewSelect().Model(&p).Where("id = ?", patientID)
	if s.db.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", statex.ErrPatientNotFound, patientID)
	}
	if err != nil {
		return fmt.Errorf("lock patient: %w", err)
	}
	return nil
}

func loadMedication(ctx context.Context, db bun.IDB, patientID, name string) (*statex.MedicationRecord, error) {
	var m medicationModel
	err := db.NewSelect().Model(&m).
		Where("patient_id = ? AND name_key = ?", patientID, statex.NameKey(name)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", statex.ErrMedicationNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("select medication: %w", err)
	}

	var intakes []intakeModel
	if err := db.NewSelect().Model(&intakes).
		Where("medication_id = ?", m.ID).
		Order("seq ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("select intakes: %w", err)
	}
	rec := m.toRecord(intakes)
	return &rec, nil
}

func insertIntake(ctx context.Context, tx bun.Tx, medicationID string, in statex.Intake) error {
	m := &intakeModel{
		MedicationID: medicationID,
		TakenAt:      in.TakenAt.UTC(),
		Notes:        in.Notes,
		RecordedAt:   in.RecordedAt.UTC(),
	}
	if in.Dose != nil {
		m.HasDose = true
		m.DoseQuantity = in.Dose.Quantity
		m.DoseUnit = in.Dose.Unit
	}
	if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("insert intake: %w", err)
	}
	return nil
}
