package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"carebridge-intake/pkg"
)

// ResponseRepository reads specialist replies from the responses store.
// A single postgres database backs the store.
type ResponseRepository struct {
	DB *sql.DB
}

// NewResponseRepository constructs a repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewResponseRepository(db *sql.DB) *ResponseRepository { return &ResponseRepository{DB: db} }

// FindByReportID returns the specialist replies recorded for a report,
// oldest first.  Zero rows is not an error.
func (r *ResponseRepository) FindByReportID(ctx context.Context, reportID string) ([]pkg.SpecialistReply, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT response_date, psychologist_id, urgency_level, psychologist_notes, recommendations
         FROM responses
         WHERE report_id = $1
         ORDER BY response_date ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var replies []pkg.SpecialistReply
	for rows.Next() {
		var reply pkg.SpecialistReply
		var recommendations []byte
		if err := rows.Scan(&reply.ResponseDate, &reply.SpecialistID, &reply.UrgencyLevel, &reply.Notes, &recommendations); err != nil {
			return nil, err
		}
		reply.Recommendations = json.RawMessage(recommendations)
		replies = append(replies, reply)
	}
	return replies, rows.Err()
}
