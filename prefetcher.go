package imagepipeline

import "sync"

// PrefetchDestination selects how far a prefetch request runs through the
// pipeline.
type PrefetchDestination int

const (
	// PrefetchDestinationMemory runs the full pipeline, landing the
	// decoded, processed image in the memory cache.
	PrefetchDestinationMemory PrefetchDestination = iota
	// PrefetchDestinationDisk short-circuits after LoadImageData,
	// populating only the data cache without decoding or processing.
	PrefetchDestinationDisk
)

// Prefetcher runs batches of requests at downgraded priority, bounded by
// its own concurrency limit independent of the pipeline's stage queues.
type Prefetcher struct {
	p           *Pipeline
	destination PrefetchDestination
	priority    Priority
	sem         chan struct{}

	mu      sync.Mutex
	paused  bool
	pending []Request
	tasks   map[string]*ImageTask
}

// NewPrefetcher creates a Prefetcher targeting destination, running at
// most maxConcurrency requests at a time, each at priority VeryLow.
func NewPrefetcher(p *Pipeline, destination PrefetchDestination, maxConcurrency int) *Prefetcher {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Prefetcher{
		p:           p,
		destination: destination,
		priority:    VeryLow,
		sem:         make(chan struct{}, maxConcurrency),
		tasks:       make(map[string]*ImageTask),
	}
}

// StartPrefetching queues requests. If the prefetcher is paused, they are
// held until Resume.
func (pf *Prefetcher) StartPrefetching(requests []Request) {
	for _, req := range requests {
		pf.startOne(req)
	}
}

// StopPrefetching cancels the matching outstanding prefetch tasks for
// requests, if any are still running.
func (pf *Prefetcher) StopPrefetching(requests []Request) {
	for _, req := range requests {
		key := prefetchKey(req, pf.destination)

		pf.mu.Lock()
		it, ok := pf.tasks[key]
		if ok {
			delete(pf.tasks, key)
		}
		pf.mu.Unlock()

		if ok {
			it.Cancel()
		}
	}
}

// Pause stops new prefetch requests from starting; already-running ones
// continue. Requests submitted while paused are held for Resume.
func (pf *Prefetcher) Pause() {
	pf.mu.Lock()
	pf.paused = true
	pf.mu.Unlock()
}

// Resume releases any requests held by Pause and lets new ones start.
func (pf *Prefetcher) Resume() {
	pf.mu.Lock()
	pf.paused = false
	pending := pf.pending
	pf.pending = nil
	pf.mu.Unlock()

	for _, req := range pending {
		pf.startOne(req)
	}
}

func (pf *Prefetcher) startOne(req Request) {
	key := prefetchKey(req, pf.destination)

	pf.mu.Lock()
	if pf.paused {
		pf.pending = append(pf.pending, req)
		pf.mu.Unlock()
		return
	}
	if _, exists := pf.tasks[key]; exists {
		pf.mu.Unlock()
		return
	}
	pf.mu.Unlock()

	go pf.run(req, key)
}

func (pf *Prefetcher) run(req Request, key string) {
	pf.sem <- struct{}{}
	defer func() { <-pf.sem }()

	done := make(chan struct{})
	handlers := Handlers{OnComplete: func(ImageResponse, error) { close(done) }}

	var it *ImageTask
	var err error
	if pf.destination == PrefetchDestinationDisk {
		it, err = pf.p.LoadData(req, pf.priority, handlers)
	} else {
		it, err = pf.p.LoadImage(req, pf.priority, handlers)
	}
	if err != nil {
		return
	}

	pf.mu.Lock()
	pf.tasks[key] = it
	pf.mu.Unlock()

	<-done

	pf.mu.Lock()
	delete(pf.tasks, key)
	pf.mu.Unlock()
}

func prefetchKey(req Request, dest PrefetchDestination) string {
	if dest == PrefetchDestinationDisk {
		if k, err := req.LoadKey(); err == nil {
			return "disk:" + k
		}
	}
	if k, err := req.ImageCacheKey(); err == nil {
		return "mem:" + k
	}
	return "err:" + req.Source.URL
}
