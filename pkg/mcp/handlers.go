package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/linkcheck"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/normalize"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/process"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// handleSubmitAudit handles the submit_audit tool
func (s *Server) handleSubmitAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteURL := request.GetString("site_url", "")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url parameter is required"), nil
	}
	if _, err := normalize.NewSite(siteURL); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid site_url: %v", err)), nil
	}
	mode := request.GetString("mode", "")
	if mode != "" && !models.CrawlMode(mode).IsValid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid mode '%s' (supported: single, multipage)", mode)), nil
	}

	project := &models.AuditProject{
		ID:        uuid.NewString(),
		Name:      request.GetString("name", ""),
		SiteURL:   siteURL,
		Status:    models.ProjectStatusPending,
		CrawlMode: mode,
		MaxPages:  max(request.GetInt("max_pages", 0), 0),
	}
	if err := s.deps.Store.CreateAuditProject(ctx, project); err != nil {
		return mcp.NewToolResultError(utils.UserMessage(err)), nil
	}

	job := s.startAudit(project.ID)
	return toolJSON(map[string]any{
		"status":     "started",
		"message":    "Audit started",
		"job_id":     job.ID,
		"project_id": project.ID,
		"site_url":   siteURL,
	}), nil
}

// startAudit creates an audit job for projectID unless one is already active
func (s *Server) startAudit(projectID string) Job {
	job, created := s.jobManager.CreateJob(JobKindAudit, projectID)
	if created {
		s.goBackground(func() { s.runAuditJob(job.ID, projectID) })
	}
	return job
}

func (s *Server) runAuditJob(jobID, projectID string) {
	ctx := s.jobManager.Context(jobID)
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	log := s.log.WithFields(logrus.Fields{"job_id": jobID, "project_id": projectID})

	res, err := s.deps.Runner.Run(ctx, projectID)
	s.deps.Cache.Invalidate(projectID)
	switch {
	case err != nil && ctx.Err() != nil:
		s.jobManager.UpdateStatus(jobID, JobStatusCancelled, "")
		log.Info("Audit job cancelled")
	case err != nil:
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, utils.UserMessage(err))
		log.Warnf("Audit job failed: %v", err)
	default:
		if res.PersistErr != nil {
			s.jobManager.SetWarning(jobID, utils.UserMessage(res.PersistErr))
		}
		s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
		log.Info("Audit job completed")
	}
}

// handleGetProject handles the get_project tool
func (s *Server) handleGetProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := request.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("project_id parameter is required"), nil
	}
	if request.GetBool("refresh", false) {
		s.deps.Cache.Invalidate(projectID)
	}

	entry, refreshed, err := s.refresher.OnFocus(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(projectError(projectID, err)), nil
	}

	pages := make([]map[string]any, 0, len(entry.Pages))
	broken := 0
	for _, p := range entry.Pages {
		pageBroken := 0
		for _, l := range p.Links {
			if l.IsBroken {
				pageBroken++
			}
		}
		broken += pageBroken
		pages = append(pages, map[string]any{
			"id":           p.ID,
			"url":          p.URL,
			"title":        p.Title,
			"status_code":  p.StatusCode,
			"links":        p.LinksCount,
			"images":       p.ImagesCount,
			"broken_links": pageBroken,
		})
	}

	result := map[string]any{
		"project":      entry.Project,
		"pages":        pages,
		"broken_links": broken,
		"fetched_at":   entry.LastFetchTime.Format(time.RFC3339),
		"from_cache":   !refreshed,
	}
	if job, ok := s.jobManager.ActiveJob(JobKindAudit, projectID); ok {
		result["active_job_id"] = job.ID
	}
	return toolJSON(result), nil
}

// handleResetProject handles the reset_project tool
func (s *Server) handleResetProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := request.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("project_id parameter is required"), nil
	}

	project, err := s.deps.Runner.Reset(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(projectError(projectID, err)), nil
	}
	s.deps.Cache.Invalidate(projectID)

	result := map[string]any{
		"project_id": project.ID,
		"status":     project.Status,
	}
	if request.GetBool("rerun", false) {
		result["job_id"] = s.startAudit(projectID).ID
	}
	return toolJSON(result), nil
}

// handleCheckLinks handles the check_links tool
func (s *Server) handleCheckLinks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := request.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("project_id parameter is required"), nil
	}
	if s.deps.Checker == nil {
		return mcp.NewToolResultError(utils.UserMessage(utils.ErrFeatureUnavailable)), nil
	}

	job, created := s.jobManager.CreateJob(JobKindLinkCheck, projectID)
	if !created {
		return toolJSON(map[string]any{
			"status":     "already_running",
			"message":    "A link check is already in progress for this project",
			"job_id":     job.ID,
			"project_id": projectID,
		}), nil
	}

	progress, err := s.deps.Checker.CheckProject(s.jobManager.Context(job.ID), projectID)
	if err != nil {
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, utils.UserMessage(err))
		return mcp.NewToolResultError(projectError(projectID, err)), nil
	}
	s.jobManager.UpdateStatus(job.ID, JobStatusRunning, "")
	s.goBackground(func() { s.drainLinkCheck(job.ID, projectID, progress) })

	return toolJSON(map[string]any{
		"status":     "started",
		"message":    "Link check started",
		"job_id":     job.ID,
		"project_id": projectID,
	}), nil
}

func (s *Server) drainLinkCheck(jobID, projectID string, progress <-chan linkcheck.Progress) {
	var final linkcheck.Progress
	persistFailures := 0
	for p := range progress {
		s.jobManager.UpdateLinkProgress(jobID, p.Checked, p.Total, p.Broken)
		if p.PersistErr != nil {
			persistFailures++
		}
		if p.Done {
			final = p
		}
	}
	s.deps.Cache.Invalidate(projectID)

	if persistFailures > 0 {
		s.jobManager.SetWarning(jobID, fmt.Sprintf("%d batches could not be saved: %s", persistFailures, utils.UserMessage(utils.ErrPersistence)))
	}
	switch {
	case errors.Is(final.Err, context.Canceled):
		s.jobManager.UpdateStatus(jobID, JobStatusCancelled, "")
	case final.Err != nil:
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, utils.UserMessage(final.Err))
	default:
		s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
	}
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	job, ok := s.jobManager.GetJob(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]any{
		"job_id":     job.ID,
		"kind":       job.Kind,
		"project_id": job.ProjectID,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}
	if job.Kind == JobKindLinkCheck {
		result["links_checked"] = job.LinksChecked
		result["links_total"] = job.LinksTotal
		result["broken_links"] = job.BrokenLinks
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Warning != "" {
		result["warning"] = job.Warning
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return toolJSON(result), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	job, ok := s.jobManager.GetJob(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	if !s.jobManager.CancelJob(jobID) {
		return toolJSON(map[string]any{
			"job_id":  jobID,
			"status":  job.Status,
			"message": "Job already finished",
		}), nil
	}
	return toolJSON(map[string]any{
		"job_id":  jobID,
		"status":  JobStatusCancelled,
		"message": "Job cancelled",
	}), nil
}

// handleGetPageContent handles the get_page_content tool
func (s *Server) handleGetPageContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := request.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("project_id parameter is required"), nil
	}
	pageID := request.GetString("page_id", "")
	pageURL := request.GetString("url", "")

	entry, _, err := s.refresher.OnFocus(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(projectError(projectID, err)), nil
	}
	page := findPage(entry.Pages, pageID, pageURL)
	if page == nil {
		return mcp.NewToolResultError(fmt.Sprintf("page not found in project '%s'", projectID)), nil
	}
	if page.HTMLContent == "" {
		return mcp.NewToolResultError(fmt.Sprintf("no HTML stored for %s", page.URL)), nil
	}

	input, err := process.PrepareGrammarInput(page.HTMLContent, page.URL, s.cfg.AppConfig.Content)
	if err != nil {
		return mcp.NewToolResultError(utils.UserMessage(err)), nil
	}
	return toolJSON(map[string]any{
		"project_id": projectID,
		"page_id":    page.ID,
		"content":    input,
	}), nil
}

func findPage(pages []models.ScrapedPage, pageID, pageURL string) *models.ScrapedPage {
	for i := range pages {
		switch {
		case pageID != "" && pages[i].ID == pageID:
			return &pages[i]
		case pageID == "" && pageURL != "" && pages[i].URL == pageURL:
			return &pages[i]
		}
	}
	if pageID == "" && pageURL == "" && len(pages) > 0 {
		return &pages[0]
	}
	return nil
}

func projectError(projectID string, err error) string {
	if errors.Is(err, utils.ErrNotFound) {
		return fmt.Sprintf("project '%s' not found", projectID)
	}
	return utils.UserMessage(err)
}

// toolJSON renders data as an indented JSON text result
func toolJSON(data map[string]any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}
