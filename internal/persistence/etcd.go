package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/aristath/taskflow/internal/job"
	"github.com/aristath/taskflow/internal/logging"
)

// DefaultEtcdPrefix is the key prefix used when Config.Prefix is empty.
const DefaultEtcdPrefix = "/taskflow/"

// EtcdStore implements Store on etcd. Records are stored as JSON under
// <prefix>jobs/<id> and <prefix>submissions/<id>.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdStore connects to etcd.
func NewEtcdStore(endpoints []string, prefix string) (*EtcdStore, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd store: no endpoints configured")
	}
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd store: %w", err)
	}
	return &EtcdStore{client: cli, prefix: prefix}, nil
}

func (e *EtcdStore) jobKey(id string) string        { return e.prefix + "jobs/" + id }
func (e *EtcdStore) submissionKey(id string) string { return e.prefix + "submissions/" + id }

// SaveJob stores the job record.
func (e *EtcdStore) SaveJob(ctx context.Context, rec job.Record) error {
	return e.putValue(ctx, e.jobKey(rec.ID), rec)
}

// GetJob retrieves a job by ID.
func (e *EtcdStore) GetJob(ctx context.Context, id string) (job.Record, error) {
	var rec job.Record
	if err := e.getValue(ctx, e.jobKey(id), &rec); err != nil {
		return job.Record{}, fmt.Errorf("job %s: %w", id, err)
	}
	return rec, nil
}

// ListJobs returns all jobs in creation order.
func (e *EtcdStore) ListJobs(ctx context.Context) ([]job.Record, error) {
	resp, err := e.client.Get(ctx, e.prefix+"jobs/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	recs := make([]job.Record, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec job.Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			logging.Log.WithField("key", string(kv.Key)).WithError(err).Warn("skipping undecodable job")
			continue
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

// DeleteJob removes a job record.
func (e *EtcdStore) DeleteJob(ctx context.Context, id string) error {
	resp, err := e.client.Delete(ctx, e.jobKey(id))
	if err != nil {
		return err
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveSubmission stores the submission record.
func (e *EtcdStore) SaveSubmission(ctx context.Context, rec job.SubmissionRecord) error {
	return e.putValue(ctx, e.submissionKey(rec.ID), rec)
}

// GetSubmission retrieves a submission by ID.
func (e *EtcdStore) GetSubmission(ctx context.Context, id string) (job.SubmissionRecord, error) {
	var rec job.SubmissionRecord
	if err := e.getValue(ctx, e.submissionKey(id), &rec); err != nil {
		return job.SubmissionRecord{}, fmt.Errorf("submission %s: %w", id, err)
	}
	return rec, nil
}

// ListSubmissions returns all submissions in creation order.
func (e *EtcdStore) ListSubmissions(ctx context.Context) ([]job.SubmissionRecord, error) {
	resp, err := e.client.Get(ctx, e.prefix+"submissions/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	recs := make([]job.SubmissionRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec job.SubmissionRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			logging.Log.WithField("key", string(kv.Key)).WithError(err).Warn("skipping undecodable submission")
			continue
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

// Close closes the etcd client.
func (e *EtcdStore) Close() error {
	return e.client.Close()
}

// putValue wraps JSON encoding + Put.
func (e *EtcdStore) putValue(ctx context.Context, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, key, string(b))
	return err
}

func (e *EtcdStore) getValue(ctx context.Context, key string, out any) error {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(resp.Kvs[0].Value, out)
}
