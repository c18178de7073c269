package worker

// Service bundles the synchronous handler and the async queue behind the
// method set the HTTP layer needs.
type Service struct {
	*Handler
	*Queue
}

// NewService pairs h with the queue that runs its async jobs.
func NewService(h *Handler, q *Queue) *Service { return &Service{Handler: h, Queue: q} }
