package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "round0_token_verifications_total",
		Help: "Interview token verifications by outcome",
	}, []string{"outcome"}) // outcome=ok|invalid|expired|consumed|error

	roundTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "round0_round_transitions_total",
		Help: "Round lifecycle transitions",
	}, []string{"from", "to"})

	evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "round0_evaluations_total",
		Help: "Artifact evaluations by artifact type and outcome",
	}, []string{"artifact", "outcome"}) // outcome=pass|fail|rejected|timeout|service_error

	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "round0_evaluation_duration_seconds",
		Help:    "Latency of evaluation calls",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90},
	}, []string{"artifact"})

	uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "round0_recording_uploads_total",
		Help: "Recording uploads by final outcome",
	}, []string{"outcome"}) // outcome=success|failure|dropped

	uploadAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "round0_recording_upload_attempts_total",
		Help: "Individual upload attempts including retries",
	})

	transcriptAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "round0_transcript_appends_total",
		Help: "Transcript events appended by message type",
	}, []string{"message_type"})

	mentorStreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "round0_mentor_streams_active",
		Help: "Mentor streams currently open",
	})

	mentorStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "round0_mentor_streams_total",
		Help: "Mentor streams by outcome",
	}, []string{"outcome"}) // outcome=final|error|cancelled
)

func RecordTokenVerification(outcome string) { tokenVerifications.WithLabelValues(outcome).Inc() }

func RecordRoundTransition(from, to string) { roundTransitions.WithLabelValues(from, to).Inc() }

func RecordEvaluation(artifact, outcome string, took time.Duration) {
	evaluations.WithLabelValues(artifact, outcome).Inc()
	evaluationDuration.WithLabelValues(artifact).Observe(took.Seconds())
}

func RecordUploadAttempt()            { uploadAttempts.Inc() }
func RecordUpload(outcome string)     { uploads.WithLabelValues(outcome).Inc() }
func RecordTranscriptAppend(t string) { transcriptAppends.WithLabelValues(t).Inc() }

func MentorStreamStarted() { mentorStreamsActive.Inc() }

func MentorStreamFinished(outcome string) {
	mentorStreamsActive.Dec()
	mentorStreams.WithLabelValues(outcome).Inc()
}
