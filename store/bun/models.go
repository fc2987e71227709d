package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/id"
	"github.com/vforwater/geoapi/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:geoapi_jobs"`

	ID           string     `bun:"id,pk"`
	ProcessID    string     `bun:"process_id,notnull"`
	State        string     `bun:"state,notnull,default:'accepted'"`
	Params       []byte     `bun:"params,type:bytea"`
	Result       []byte     `bun:"result,type:bytea"`
	ResultRef    string     `bun:"result_ref,notnull,default:''"`
	ErrorCode    *string    `bun:"error_code"`
	ErrorMessage *string    `bun:"error_message"`
	StartedAt    *time.Time `bun:"started_at"`
	FinishedAt   *time.Time `bun:"finished_at"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:         j.ID.String(),
		ProcessID:  j.ProcessID,
		State:      string(j.State),
		Params:     j.Params,
		Result:     j.Result,
		ResultRef:  j.ResultRef,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if j.Error != nil {
		m.ErrorCode = &j.Error.Code
		m.ErrorMessage = &j.Error.Message
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("geoapi/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: geoapi.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         parsedID,
		ProcessID:  m.ProcessID,
		State:      job.State(m.State),
		Params:     m.Params,
		Result:     m.Result,
		ResultRef:  m.ResultRef,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}

	if m.ErrorCode != nil || m.ErrorMessage != nil {
		detail := job.ErrorDetail{}
		if m.ErrorCode != nil {
			detail.Code = *m.ErrorCode
		}
		if m.ErrorMessage != nil {
			detail.Message = *m.ErrorMessage
		}
		j.Error = &detail
	}

	return j, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
