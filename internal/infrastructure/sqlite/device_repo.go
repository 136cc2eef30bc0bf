package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

// DeviceRepo implements [domain.DeviceRepository] backed by SQLite.
type DeviceRepo struct {
	DB *sql.DB
}

func (r *DeviceRepo) Create(ctx context.Context, d domain.Device) error {
	labels, err := json.Marshal(nonNil(d.Labels))
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	props, err := json.Marshal(nonNil(d.Properties))
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO devices (id, tenant_id, name, labels, properties) VALUES (?, ?, ?, ?, ?)`,
		string(d.ID), string(d.TenantID), d.Name, string(labels), string(props),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("device %q: %w", d.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

func (r *DeviceRepo) Get(ctx context.Context, id domain.DeviceID) (domain.Device, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, labels, properties FROM devices WHERE id = ?`,
		string(id),
	)
	d, err := scanDevice(row)
	if errors.Is(err, domain.ErrNotFound) {
		return d, fmt.Errorf("device %q: %w", id, domain.ErrNotFound)
	}
	return d, err
}

func (r *DeviceRepo) ListByTenant(ctx context.Context, tenant domain.TenantID) ([]domain.Device, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, tenant_id, name, labels, properties FROM devices WHERE tenant_id = ? ORDER BY id`,
		string(tenant),
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (r *DeviceRepo) Delete(ctx context.Context, id domain.DeviceID) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("device %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (domain.Device, error) {
	var d domain.Device
	var id, tenant, labelsJSON, propsJSON string
	if err := s.Scan(&id, &tenant, &d.Name, &labelsJSON, &propsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, domain.ErrNotFound
		}
		return d, fmt.Errorf("scan device: %w", err)
	}
	d.ID = domain.DeviceID(id)
	d.TenantID = domain.TenantID(tenant)
	if err := json.Unmarshal([]byte(labelsJSON), &d.Labels); err != nil {
		return d, fmt.Errorf("unmarshal labels: %w", err)
	}
	if err := json.Unmarshal([]byte(propsJSON), &d.Properties); err != nil {
		return d, fmt.Errorf("unmarshal properties: %w", err)
	}
	return d, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
