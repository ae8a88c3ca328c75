package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Spool is an inventory spool as returned by the backend.
type Spool struct {
	ID              int64   `json:"id" yaml:"id" parquet:"id"`
	Type            string  `json:"type,omitempty" yaml:"type,omitempty" parquet:"type,optional"`
	PlasticTypeID   *int64  `json:"plastic_type_id,omitempty" yaml:"plastic_type_id,omitempty" parquet:"plastic_type_id"`
	Color           string  `json:"color" yaml:"color" parquet:"color"`
	WeightTotal     float64 `json:"weight_total" yaml:"weight_total" parquet:"weight_total"`
	WeightRemaining float64 `json:"weight_remaining" yaml:"weight_remaining" parquet:"weight_remaining"`
	QRCodePath      string  `json:"qr_code_path,omitempty" yaml:"qr_code_path,omitempty" parquet:"qr_code_path,optional"`
	GroupID         *int64  `json:"group_id,omitempty" yaml:"group_id,omitempty" parquet:"group_id"`
	ManufacturerID  *int64  `json:"manufacturer_id,omitempty" yaml:"manufacturer_id,omitempty" parquet:"manufacturer_id"`
}

// Usage is a recorded consumption of plastic from a spool.
type Usage struct {
	ID         int64     `json:"id" yaml:"id" parquet:"id"`
	SpoolID    int64     `json:"spool_id" yaml:"spool_id" parquet:"spool_id"`
	AmountUsed float64   `json:"amount_used" yaml:"amount_used" parquet:"amount_used"`
	Purpose    string    `json:"purpose" yaml:"purpose" parquet:"purpose"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp" parquet:"timestamp"`
	ProjectID  *int64    `json:"project_id,omitempty" yaml:"project_id,omitempty" parquet:"project_id"`
	UserID     *int64    `json:"user_id,omitempty" yaml:"user_id,omitempty" parquet:"user_id"`
}

// timestampLayouts covers RFC 3339 and the backend's naive UTC timestamps.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"}

// UnmarshalJSON accepts timestamps with or without a zone; naive ones are UTC.
func (u *Usage) UnmarshalJSON(data []byte) error {
	type alias Usage
	aux := struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{alias: (*alias)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timestamp == "" {
		u.Timestamp = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, aux.Timestamp, time.UTC); err == nil {
			u.Timestamp = t
			return nil
		}
	}
	return fmt.Errorf("invalid usage timestamp %q", aux.Timestamp)
}

// UsageCreate is the body of POST /usage/.
type UsageCreate struct {
	SpoolID    int64   `json:"spool_id"`
	AmountUsed float64 `json:"amount_used"`
	Purpose    string  `json:"purpose"`
	ProjectID  *int64  `json:"project_id,omitempty"`
}

// Project groups usages.
type Project struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	GroupID     *int64 `json:"group_id,omitempty" yaml:"group_id,omitempty"`
}

// ProjectCreate is the body of POST /projects/.
type ProjectCreate struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	GroupID     *int64 `json:"group_id,omitempty"`
}

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Ref is an id/name pair.
type Ref struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Profile is the signed-in user as reported by GET /auth/me.
type Profile struct {
	ID       int64  `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Role     *Ref   `json:"role,omitempty" yaml:"role,omitempty"`
	Group    *Ref   `json:"group,omitempty" yaml:"group,omitempty"`
}

// ScanRecord is one kiosk scan: the decoded text and how it resolved.
type ScanRecord struct {
	ID        string    `json:"id"`
	SessionID uint64    `json:"session_id"`
	Source    string    `json:"source"` // "camera", "photo"
	Raw       string    `json:"raw,omitempty"`
	SpoolID   *int64    `json:"spool_id,omitempty"`
	Spool     *Spool    `json:"spool,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
