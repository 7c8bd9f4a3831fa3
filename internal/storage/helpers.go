package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// toConfigData accepts a string, []byte, or any JSON-serializable value
func toConfigData(config any) (sql.NullString, error) {
	var data sql.NullString

	switch c := config.(type) {
	case nil:
	case string:
		data.Valid = true
		data.String = c

	case []byte:
		data.Valid = true
		data.String = string(c)

	default:
		p, err := json.Marshal(c)
		if err != nil {
			return data, fmt.Errorf("marshaling config: %w", err)
		}

		data.Valid = true
		data.String = string(p)
	}

	return data, nil
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat64(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
