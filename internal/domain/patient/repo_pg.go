package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/db"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, mrn, full_name, date_of_birth, gender, phone, registration_complete,
	systolic, diastolic, heart_rate, respiratory_rate, temperature, weight, height,
	oxygen_saturation, bmi, vitals_recorded_at, vitals_recorded_by, created_at, updated_at`

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	v := &p.Vitals
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id).Scan(
		&p.ID, &p.MRN, &p.FullName, &p.DateOfBirth, &p.Gender, &p.Phone, &p.RegistrationComplete,
		&v.Systolic, &v.Diastolic, &v.HeartRate, &v.RespiratoryRate, &v.Temperature, &v.Weight, &v.Height,
		&v.OxygenSaturation, &v.BMI, &p.VitalsRecordedAt, &p.VitalsRecordedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *repoPG) UpdateVitals(ctx context.Context, id uuid.UUID, v Vitals, recordedBy string, at time.Time) error {
	var by *string
	if recordedBy != "" {
		by = &recordedBy
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET systolic=$2, diastolic=$3, heart_rate=$4, respiratory_rate=$5,
			temperature=$6, weight=$7, height=$8, oxygen_saturation=$9, bmi=$10,
			vitals_recorded_at=$11, vitals_recorded_by=$12, updated_at=NOW()
		WHERE id = $1`,
		id, v.Systolic, v.Diastolic, v.HeartRate, v.RespiratoryRate,
		v.Temperature, v.Weight, v.Height, v.OxygenSaturation, v.BMI, at, by)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkRegistrationComplete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient SET registration_complete = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrNotFound
	}
	return nil
}
