package http

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/service"
)

// PipelineStatus renders the live status fragment pushed over the event
// stream. Its root element id lets clients swap it in place.
func PipelineStatus(view *service.PipelineView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<section id="pipeline-%s" class="pipeline %s">`,
			templ.EscapeString(view.ID), templ.EscapeString(string(view.Status))); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<h2>%s</h2><p class="status">%s</p>`,
			templ.EscapeString(string(view.Kind)), statusLabel(view.Status)); err != nil {
			return err
		}
		switch view.Status {
		case domain.PipelineStatusInProgress:
			if _, err := fmt.Fprintf(w, `<progress class="progress" value="%d" max="100">%d%%</progress>`,
				view.Progress, view.Progress); err != nil {
				return err
			}
		case domain.PipelineStatusFailed:
			if _, err := fmt.Fprintf(w, `<p class="reason">%s</p>`, templ.EscapeString(view.Reason)); err != nil {
				return err
			}
		case domain.PipelineStatusSucceeded:
			if _, err := fmt.Fprintf(w, `<p class="result">%s</p>`, templ.EscapeString(view.ResultRef)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `<ol class="jobs">`); err != nil {
			return err
		}
		for _, j := range view.Jobs {
			if err := JobRow(j).Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ol></section>`)
		return err
	})
}

func JobRow(job service.JobView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if job.Status == domain.JobStatusRunning {
			_, err := fmt.Fprintf(w, `<li class="job %s" data-stage="%d" data-progress="%d">%s <span class="pct">%d%%</span></li>`,
				templ.EscapeString(string(job.Status)), job.Stage, job.Progress,
				templ.EscapeString(string(job.Kind)), job.Progress)
			return err
		}
		_, err := fmt.Fprintf(w, `<li class="job %s" data-stage="%d">%s</li>`,
			templ.EscapeString(string(job.Status)), job.Stage, templ.EscapeString(string(job.Kind)))
		return err
	})
}

func statusLabel(status domain.PipelineStatus) string {
	switch status {
	case domain.PipelineStatusSucceeded:
		return "Done"
	case domain.PipelineStatusFailed:
		return "Failed"
	default:
		return "Processing"
	}
}
