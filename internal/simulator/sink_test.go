package simulator_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/telemetry-hub/internal/simulator"
	"procodus.dev/telemetry-hub/pkg/logger"
	"procodus.dev/telemetry-hub/pkg/metrics"
	"procodus.dev/telemetry-hub/pkg/mq"
	"procodus.dev/telemetry-hub/pkg/mq/mock"
	"procodus.dev/telemetry-hub/pkg/wire"
)

// recordingServer answers every request with status and remembers what it received.
type recordingServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	requests []recordedRequest
}

type recordedRequest struct {
	Path        string
	ContentType string
	Body        map[string]any
}

func newRecordingServer(status int) *recordingServer {
	rs := &recordingServer{status: status}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		rs.mu.Lock()
		rs.requests = append(rs.requests, recordedRequest{
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		status := rs.status
		rs.mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	DeferCleanup(rs.Close)
	return rs
}

func (rs *recordingServer) received() []recordedRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]recordedRequest(nil), rs.requests...)
}

var _ = Describe("HTTPSink", func() {
	var (
		ctx context.Context
		m   *metrics.SimulatorMetrics
	)

	BeforeEach(func() {
		ctx = context.Background()
		m = metrics.NewSimulatorMetrics("test", prometheus.NewRegistry())
	})

	newSink := func(base, fallback string) *simulator.HTTPSink {
		s, err := simulator.NewHTTPSink(&simulator.HTTPConfig{
			Logger:      logger.Discard(),
			BaseURL:     base,
			FallbackURL: fallback,
			Metrics:     m,
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
		return s
	}

	Describe("NewHTTPSink", func() {
		It("should return error when config is nil", func() {
			_, err := simulator.NewHTTPSink(nil)
			Expect(err).To(MatchError("http sink config cannot be nil"))
		})

		It("should return error when logger is nil", func() {
			_, err := simulator.NewHTTPSink(&simulator.HTTPConfig{BaseURL: "http://localhost:5000"})
			Expect(err).To(MatchError("logger cannot be nil"))
		})

		It("should return error when base URL is empty", func() {
			_, err := simulator.NewHTTPSink(&simulator.HTTPConfig{Logger: logger.Discard()})
			Expect(err).To(MatchError("base URL cannot be empty"))
		})
	})

	It("should wrap frames in a data envelope on /data", func() {
		primary := newRecordingServer(http.StatusOK)
		sink := newSink(primary.URL+"/", "")

		Expect(sink.SendFrame(ctx, "P:1000.00hPa, GX:1, GY:2, GZ:3")).To(Succeed())

		reqs := primary.received()
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Path).To(Equal("/data"))
		Expect(reqs[0].ContentType).To(Equal("application/json"))
		Expect(reqs[0].Body).To(Equal(map[string]any{"data": "P:1000.00hPa, GX:1, GY:2, GZ:3"}))
	})

	It("should post payloads as-is on /upload", func() {
		primary := newRecordingServer(http.StatusOK)
		sink := newSink(primary.URL, "")

		Expect(sink.SendPayload(ctx, map[string]any{"temperature": 21.5, "latitude": nil})).To(Succeed())

		reqs := primary.received()
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Path).To(Equal("/upload"))
		Expect(reqs[0].Body).To(Equal(map[string]any{"temperature": 21.5, "latitude": nil}))
	})

	It("should retry once against the fallback", func() {
		primary := newRecordingServer(http.StatusInternalServerError)
		fallback := newRecordingServer(http.StatusOK)
		sink := newSink(primary.URL, fallback.URL)

		Expect(sink.SendPayload(ctx, map[string]any{"temperature": 20.0})).To(Succeed())

		Expect(primary.received()).To(HaveLen(1))
		Expect(fallback.received()).To(HaveLen(1))
		Expect(testutil.ToFloat64(m.FallbackAttempts.WithLabelValues("network"))).To(Equal(1.0))
	})

	It("should fall back when the primary is unreachable", func() {
		gone := httptest.NewServer(http.NotFoundHandler())
		goneURL := gone.URL
		gone.Close()

		fallback := newRecordingServer(http.StatusOK)
		sink := newSink(goneURL, fallback.URL)

		Expect(sink.SendFrame(ctx, "frame")).To(Succeed())
		Expect(fallback.received()).To(HaveLen(1))
	})

	It("should report both failures", func() {
		primary := newRecordingServer(http.StatusBadRequest)
		fallback := newRecordingServer(http.StatusServiceUnavailable)
		sink := newSink(primary.URL, fallback.URL)

		err := sink.SendFrame(ctx, "frame")
		Expect(err).To(HaveOccurred())

		var statusErr *simulator.StatusError
		Expect(errors.As(err, &statusErr)).To(BeTrue())
		Expect(statusErr.Code).To(Equal(http.StatusBadRequest))
		Expect(err.Error()).To(ContainSubstring("503"))
	})

	It("should not retry when the fallback is the primary", func() {
		primary := newRecordingServer(http.StatusInternalServerError)
		sink := newSink(primary.URL, primary.URL)

		Expect(sink.SendFrame(ctx, "frame")).To(HaveOccurred())
		Expect(primary.received()).To(HaveLen(1))
		Expect(testutil.ToFloat64(m.FallbackAttempts.WithLabelValues("radio"))).To(BeZero())
	})
})

var _ = Describe("MQSink", func() {
	var (
		radio   *mock.MockClient
		network *mock.MockClient
		sink    *simulator.MQSink
	)

	BeforeEach(func() {
		radio = mock.NewMockClient("telemetry.radio")
		network = mock.NewMockClient("telemetry.network")

		var err error
		sink, err = simulator.NewMQSink(radio, network)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should require both clients", func() {
		_, err := simulator.NewMQSink(radio, nil)
		Expect(err).To(MatchError("mq clients cannot be nil"))
	})

	It("should publish frames as protobuf strings on the radio queue", func() {
		Expect(sink.SendFrame(context.Background(), "GX:1")).To(Succeed())

		msgs := radio.PushedMessages()
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].ContentType).To(Equal(wire.ContentTypeFrameProto))
		Expect(msgs[0].MessageID).NotTo(BeEmpty())

		frame, err := wire.DecodeFrame(msgs[0].Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(frame).To(Equal("GX:1"))
		Expect(network.PushedMessages()).To(BeEmpty())
	})

	It("should publish payloads as protobuf structs on the network queue", func() {
		Expect(sink.SendPayload(context.Background(), map[string]any{"humidity": 55.0, "latitude": nil})).To(Succeed())

		msgs := network.PushedMessages()
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].ContentType).To(Equal(wire.ContentTypePayloadProto))

		p, err := wire.DecodePayload(msgs[0].Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(map[string]any{"humidity": 55.0, "latitude": nil}))
	})

	It("should return push errors", func() {
		radio.PushError = mq.ErrMaxRetriesExceeded
		Expect(sink.SendFrame(context.Background(), "GX:1")).To(MatchError(mq.ErrMaxRetriesExceeded))
	})

	It("should close both clients", func() {
		Expect(sink.Close()).To(Succeed())
		Expect(radio.CloseCalls).To(Equal(1))
		Expect(network.CloseCalls).To(Equal(1))
	})
})
