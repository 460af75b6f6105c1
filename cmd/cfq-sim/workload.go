package main

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	cfq "github.com/ehrlich-b/go-cfq"
)

// procSpec is a group of simulated processes sharing a class
type procSpec struct {
	class int
	count int
}

// parseProcs parses "class:count,..." such as "19:4,2:2,20:1"
func parseProcs(s string) ([]procSpec, error) {
	var specs []procSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		classStr, countStr, ok := strings.Cut(part, ":")
		if !ok {
			countStr = "1"
		}
		class, err := strconv.Atoi(classStr)
		if err != nil || class < cfq.ClassIdle || class > cfq.ClassRealtime {
			return nil, fmt.Errorf("bad class %q: want %d..%d", classStr, cfq.ClassIdle, cfq.ClassRealtime)
		}
		count, err := strconv.Atoi(countStr)
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("bad process count %q", countStr)
		}
		specs = append(specs, procSpec{class: class, count: count})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no processes given")
	}
	return specs, nil
}

type workload struct {
	procs      []procSpec
	requests   int     // per process
	ioSectors  uint64  // per request
	writeRatio float64 // share of writes
	seqRatio   float64 // share of requests continuing the previous one
	baseKey    int64
}

// classResult aggregates what the processes of one class got
type classResult struct {
	class    int
	procs    int
	requests int
	errors   int
	bytes    uint64
	latency  time.Duration
	maxLat   time.Duration
	finished time.Duration
}

func (r *classResult) avgLatency() time.Duration {
	if r.requests == 0 {
		return 0
	}
	return r.latency / time.Duration(r.requests)
}

// run drives every simulated process against dev until each has issued
// its requests or ctx ends
func (w *workload) run(ctx context.Context, dev *cfq.Device) []*classResult {
	results := map[int]*classResult{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	sectors := uint64(dev.Size()) / cfq.SectorSize
	start := time.Now()
	key := w.baseKey
	for _, p := range w.procs {
		res, ok := results[p.class]
		if !ok {
			res = &classResult{class: p.class}
			results[p.class] = res
		}
		res.procs += p.count

		for i := 0; i < p.count; i++ {
			key++
			wg.Add(1)
			go func(ioc cfq.IOContext) {
				defer wg.Done()
				r := w.process(ctx, dev, ioc, sectors)
				mu.Lock()
				defer mu.Unlock()
				res := results[ioc.Class]
				res.requests += r.requests
				res.errors += r.errors
				res.bytes += r.bytes
				res.latency += r.latency
				res.maxLat = max(res.maxLat, r.maxLat)
				res.finished = max(res.finished, time.Since(start))
			}(cfq.IOContext{Key: key, Class: p.class})
		}
	}
	wg.Wait()

	out := make([]*classResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].class > out[j].class })
	return out
}

// process is one simulated submitter: a stream of reads and writes that
// is mostly sequential with occasional jumps
func (w *workload) process(ctx context.Context, dev *cfq.Device, ioc cfq.IOContext, sectors uint64) classResult {
	rng := rand.New(rand.NewSource(ioc.Key))
	buf := make([]byte, w.ioSectors*cfq.SectorSize)
	span := sectors - w.ioSectors
	pos := uint64(rng.Int63n(int64(span)))

	var res classResult
	for i := 0; i < w.requests && ctx.Err() == nil; i++ {
		if rng.Float64() >= w.seqRatio {
			pos = uint64(rng.Int63n(int64(span)))
		}
		if pos > span {
			pos = 0
		}
		dir := cfq.DirRead
		if rng.Float64() < w.writeRatio {
			dir = cfq.DirWrite
		}

		bio := &cfq.Bio{
			Sector:    pos,
			NrSectors: w.ioSectors,
			Dir:       dir,
			Ctx:       ioc,
			Data:      buf,
		}
		began := time.Now()
		err := dev.Submit(ctx, bio)
		lat := time.Since(began)

		res.requests++
		res.latency += lat
		res.maxLat = max(res.maxLat, lat)
		if err != nil {
			res.errors++
		} else {
			res.bytes += uint64(len(buf))
		}
		pos += w.ioSectors
	}
	return res
}
