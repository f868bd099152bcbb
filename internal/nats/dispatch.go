package nats

import (
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"fleetops/internal/gateway"
	"fleetops/models"
)

// DefaultMissionQueue is the number of samples buffered per mission before new ones are dropped.
const DefaultMissionQueue = 64

type telemetryJob struct {
	msg    *nats.Msg
	sample models.TelemetrySample
}

// dispatcher fans telemetry out to one worker per mission. Samples of a mission are
// applied in arrival order; missions never wait on each other.
type dispatcher struct {
	process func(*nats.Msg, models.TelemetrySample)
	depth   int
	log     zerolog.Logger

	mu     sync.Mutex
	queues map[int64]chan telemetryJob
	wg     sync.WaitGroup
}

func newDispatcher(ing TelemetryIngester, depth int, log zerolog.Logger) *dispatcher {
	if depth <= 0 {
		depth = DefaultMissionQueue
	}
	return &dispatcher{
		process: ingestHandler(ing, log),
		depth:   depth,
		log:     log,
		queues:  make(map[int64]chan telemetryJob),
	}
}

// handle is the subscription callback. It decodes the sample and queues it on its mission's worker.
func (d *dispatcher) handle(msg *nats.Msg) {
	s, ok := decodeTelemetry(msg, d.log)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[s.MissionID]
	if !ok {
		q = make(chan telemetryJob, d.depth)
		d.queues[s.MissionID] = q
		d.wg.Add(1)
		go d.work(s.MissionID, q)
	}
	select {
	case q <- telemetryJob{msg: msg, sample: s}:
	default:
		d.log.Warn().Int64("mission_id", s.MissionID).Int("depth", d.depth).Msg("telemetry queue full, sample dropped")
		reply(msg, gateway.CommandResult{Error: &gateway.CommandError{Code: gateway.CodeUnavailable, Message: "telemetry queue full"}}, d.log)
	}
}

// work drains q and exits once it is empty. The emptiness check and the enqueue in
// handle both hold mu, so no job is left behind.
func (d *dispatcher) work(missionID int64, q chan telemetryJob) {
	defer d.wg.Done()
	for {
		select {
		case job := <-q:
			d.process(job.msg, job.sample)
		default:
			d.mu.Lock()
			if len(q) == 0 {
				delete(d.queues, missionID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
		}
	}
}

// wait blocks until every queued sample has been processed.
func (d *dispatcher) wait() {
	d.wg.Wait()
}
