package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/raphaelgruber/gearflow/internal/metrics"
	"github.com/raphaelgruber/gearflow/internal/models"
)

// =============================================================================
// GEAR & JOB OPERATIONS
// =============================================================================

// LookupGear returns the catalog entry for name whose version matches the
// (unanchored) versionPattern. When several match, the last listed wins.
func (c *Client) LookupGear(ctx context.Context, name, versionPattern string) (*models.Gear, error) {
	var re *regexp.Regexp
	if versionPattern != "" {
		var err error
		if re, err = regexp.Compile(versionPattern); err != nil {
			return nil, fmt.Errorf("invalid version pattern %q: %w", versionPattern, err)
		}
	}

	params := url.Values{"filter": {"gear.name=" + name}}
	var docs []gearDoc
	if err := c.getJSON(ctx, "/gears", params, &docs); err != nil {
		return nil, fmt.Errorf("list gears: %w", err)
	}

	var found *models.Gear
	for _, d := range docs {
		if d.Gear.Name != name {
			continue
		}
		if re != nil && !re.MatchString(d.Gear.Version) {
			continue
		}
		g := d.toModel()
		found = &g
	}
	if found == nil {
		return nil, fmt.Errorf("gear %s matching %q: %w", name, versionPattern, ErrNotFound)
	}
	return found, nil
}

// SubmitJob queues gear against spec.Destination and returns immediately.
func (c *Client) SubmitJob(ctx context.Context, gear models.Gear, spec models.GearSpec, label string) (models.JobHandle, error) {
	payload := jobRequest{
		GearID:      gear.ID,
		Config:      spec.Config,
		Inputs:      spec.Inputs,
		Tags:        spec.Tags,
		Destination: spec.Destination,
		Label:       label,
	}
	if payload.Config == nil {
		payload.Config = map[string]any{}
	}
	if payload.Inputs == nil {
		payload.Inputs = map[string]models.InputRef{}
	}
	if gear.Category == "analysis" {
		payload.Analysis = &analysisLabel{Label: label}
	}

	var resp idResponse
	if err := c.sendJSON(ctx, http.MethodPost, "/jobs/add", payload, &resp); err != nil {
		return models.JobHandle{}, err
	}
	if resp.ID == "" {
		return models.JobHandle{}, fmt.Errorf("submit job: empty job id in response")
	}
	return models.JobHandle{ID: resp.ID, Status: models.JobStatusPending}, nil
}

// GetJobStatus fetches the current state of a job.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	var doc jobDoc
	if err := c.getJSON(ctx, "/jobs/"+url.PathEscape(jobID), nil, &doc); err != nil {
		return "", err
	}
	return models.ParseJobStatus(doc.State)
}

// =============================================================================
// ANALYSIS OPERATIONS
// =============================================================================

// ListAnalyses returns the analyses attached to a container in the platform's
// native listing order.
func (c *Client) ListAnalyses(ctx context.Context, container models.ContainerRef) ([]models.AnalysisRecord, error) {
	params := url.Values{"inflate_job": {"true"}}
	var docs []analysisDoc
	path := containerPath(string(container.Type), container.ID) + "/analyses"
	if err := c.getJSON(ctx, path, params, &docs); err != nil {
		return nil, fmt.Errorf("list analyses of %s: %w", container, err)
	}

	records := make([]models.AnalysisRecord, 0, len(docs))
	for _, d := range docs {
		rec, err := c.analysisToModel(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("analysis %s: %w", d.ID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetAnalysis fetches a single analysis.
func (c *Client) GetAnalysis(ctx context.Context, id string) (*models.AnalysisRecord, error) {
	params := url.Values{"inflate_job": {"true"}}
	var doc analysisDoc
	if err := c.getJSON(ctx, containerPath("analysis", id), params, &doc); err != nil {
		return nil, err
	}
	rec, err := c.analysisToModel(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("analysis %s: %w", id, err)
	}
	return &rec, nil
}

func (c *Client) analysisToModel(ctx context.Context, d analysisDoc) (models.AnalysisRecord, error) {
	rec := models.AnalysisRecord{
		ID:    d.ID,
		Label: d.Label,
		Parents: models.Parents{
			Project: d.Parents.Project,
			Subject: d.Parents.Subject,
			Session: d.Parents.Session,
		},
		Created: d.Created,
	}
	if d.GearInfo != nil {
		rec.Gear = &models.GearInfo{Name: d.GearInfo.Name, Version: d.GearInfo.Version}
	}
	for _, f := range d.Files {
		rec.Files = append(rec.Files, f.toModel())
	}

	job, err := c.decodeAnalysisJob(ctx, d.Job)
	if err != nil {
		return rec, err
	}
	rec.Job = job
	return rec, nil
}

// decodeAnalysisJob handles the three shapes of an analysis' job field.
func (c *Client) decodeAnalysisJob(ctx context.Context, raw json.RawMessage) (*models.JobHandle, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return nil, nil
		}
		status, err := c.GetJobStatus(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
		return &models.JobHandle{ID: id, Status: status}, nil
	}

	var doc jobDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	status, err := models.ParseJobStatus(doc.State)
	if err != nil {
		return nil, err
	}
	return &models.JobHandle{ID: doc.id(), Status: status}, nil
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// GetSession fetches a session with its subject label.
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var doc sessionDoc
	if err := c.getJSON(ctx, containerPath("session", id), nil, &doc); err != nil {
		return nil, err
	}
	s := doc.toModel()
	return &s, nil
}

// ListAcquisitions returns the acquisitions of a session.
func (c *Client) ListAcquisitions(ctx context.Context, sessionID string) ([]models.Acquisition, error) {
	var docs []acquisitionDoc
	if err := c.getJSON(ctx, containerPath("session", sessionID)+"/acquisitions", nil, &docs); err != nil {
		return nil, err
	}
	acqs := make([]models.Acquisition, 0, len(docs))
	for _, d := range docs {
		acqs = append(acqs, models.Acquisition{ID: d.ID, Label: d.Label})
	}
	return acqs, nil
}

// =============================================================================
// FILE OPERATIONS
// =============================================================================

func analysisFilePath(analysisID, name string) string {
	return containerPath("analysis", analysisID) + "/files/" + url.PathEscape(name)
}

// ZipMembers lists the member paths of a zip output without downloading it.
func (c *Client) ZipMembers(ctx context.Context, analysisID, fileName string) ([]string, error) {
	var doc zipInfoDoc
	params := url.Values{"info": {"true"}}
	if err := c.getJSON(ctx, analysisFilePath(analysisID, fileName), params, &doc); err != nil {
		return nil, fmt.Errorf("zip info for %s: %w", fileName, err)
	}
	members := make([]string, 0, len(doc.Members))
	for _, m := range doc.Members {
		members = append(members, m.Path)
	}
	return members, nil
}

// DownloadFile streams an analysis output file to localPath. The file only
// appears at localPath once fully written.
func (c *Client) DownloadFile(ctx context.Context, analysisID, fileName, localPath string) error {
	req, err := c.newRequest(ctx, http.MethodGet, analysisFilePath(analysisID, fileName), nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	part := localPath + ".part"
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}

	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(part)
		if c.metrics != nil {
			c.metrics.RecordFailure(metrics.OpDownload)
		}
		return fmt.Errorf("download %s: %w", fileName, err)
	}
	if err := os.Rename(part, localPath); err != nil {
		os.Remove(part)
		return fmt.Errorf("finalize %s: %w", fileName, err)
	}

	if c.metrics != nil {
		c.metrics.RecordTransfer(metrics.OpDownload, time.Since(start), n)
	}
	return nil
}

// GetContainerFile returns the named file of a container, or nil if absent.
func (c *Client) GetContainerFile(ctx context.Context, container models.ContainerRef, name string) (*models.FileDescriptor, error) {
	var doc containerDoc
	if err := c.getJSON(ctx, containerPath(string(container.Type), container.ID), nil, &doc); err != nil {
		return nil, err
	}
	for _, f := range doc.Files {
		if f.Name == name {
			fd := f.toModel()
			return &fd, nil
		}
	}
	return nil, nil
}

func containerFilePath(container models.ContainerRef, name string) string {
	return containerPath(string(container.Type), container.ID) + "/files/" + url.PathEscape(name)
}

// DeleteContainerFile removes a file from a container.
func (c *Client) DeleteContainerFile(ctx context.Context, container models.ContainerRef, name string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, containerFilePath(container, name), nil, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// UploadContainerFile uploads localPath as a multipart form to a container.
func (c *Client) UploadContainerFile(ctx context.Context, container models.ContainerRef, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(localPath))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	path := containerPath(string(container.Type), container.ID) + "/files"
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.doJSON(req, nil)
}

// ReplaceFileInfo replaces the free-form info of a container file.
func (c *Client) ReplaceFileInfo(ctx context.Context, container models.ContainerRef, name string, info map[string]any) error {
	payload := map[string]any{"replace": info}
	return c.sendJSON(ctx, http.MethodPost, containerFilePath(container, name)+"/info", payload, nil)
}

// UpdateFile sets top-level fields (modality, type, ...) of a container file.
func (c *Client) UpdateFile(ctx context.Context, container models.ContainerRef, name string, fields map[string]any) error {
	return c.sendJSON(ctx, http.MethodPut, containerFilePath(container, name), fields, nil)
}
