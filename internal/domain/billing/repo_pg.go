package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
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

const billCols = `id, bill_number, patient_id, appointment_id, doctor_label, total_amount,
	status, created_by, created_at`

func scanBill(row pgx.Row) (*ConsultationBill, error) {
	var b ConsultationBill
	err := row.Scan(&b.ID, &b.BillNumber, &b.PatientID, &b.AppointmentID, &b.DoctorLabel, &b.TotalAmount,
		&b.Status, &b.CreatedBy, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	return &b, err
}

func (r *repoPG) Create(ctx context.Context, b *ConsultationBill) error {
	tx, err := db.Begin(ctx, r.pool)
	if err != nil {
		return fmt.Errorf("begin bill: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO consultation_bill (id, bill_number, patient_id, appointment_id, doctor_label,
			total_amount, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		b.ID, b.BillNumber, b.PatientID, b.AppointmentID, b.DoctorLabel, b.TotalAmount, b.Status, b.CreatedBy,
	).Scan(&b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}

	for i := range b.Items {
		it := &b.Items[i]
		it.ID = uuid.New()
		it.BillID = b.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO consultation_bill_item (id, bill_id, description, quantity, unit_price, amount)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.BillID, it.Description, it.Quantity, it.UnitPrice, it.Amount); err != nil {
			return fmt.Errorf("insert bill item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ConsultationBill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM consultation_bill WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if b.Items, err = r.items(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsultationBill, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consultation_bill WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+billCols+` FROM consultation_bill WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := []*ConsultationBill{}
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// the connection is free again once rows are closed
	for _, b := range items {
		if b.Items, err = r.items(ctx, b.ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *repoPG) items(ctx context.Context, billID uuid.UUID) ([]BillItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, description, quantity, unit_price, amount
		FROM consultation_bill_item WHERE bill_id = $1 ORDER BY description`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []BillItem{}
	for rows.Next() {
		var it BillItem
		if err := rows.Scan(&it.ID, &it.BillID, &it.Description, &it.Quantity, &it.UnitPrice, &it.Amount); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
