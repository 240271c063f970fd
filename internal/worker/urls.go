package worker

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

func (w *Worker) threadURL(thread forum.Thread) string {
	if thread.URL != "" {
		return thread.URL
	}
	if w.cfg.ThreadURLTemplate == "" {
		return ""
	}
	return fmt.Sprintf(w.cfg.ThreadURLTemplate, thread.ID)
}

// pageURL returns the URL of page n of thread. Page 1 is the thread URL
// itself; later pages append PageSuffix (XenForo style "page-N").
func (w *Worker) pageURL(thread forum.Thread, page int) string {
	base := w.threadURL(thread)
	if page <= 1 {
		return base
	}
	query := ""
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base, query = base[:i], base[i:]
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + fmt.Sprintf(w.cfg.PageSuffix, page) + query
}
