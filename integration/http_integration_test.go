package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"correlator/internal/app"
	"correlator/internal/config"
)

const testConfig = `
storage:
  mode: memory
correlator:
  workers: 4
  rule_timeout: 2s
  default_priority: 3
  priorities:
    DOWN: 1
  silenced: [lab]
topology:
  dependencies:
    - item: h2
      depends_on: [h1]
    - item: h3
      depends_on: [h2]
    - item: a
      depends_on: [b]
  hls:
    - name: storefront
      items: [h3]
`

// envelope mirrors api.APIResponse with a typed payload.
type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type incident struct {
	ID          int64    `json:"id"`
	CauseID     int64    `json:"cause_id"`
	Priority    int      `json:"priority"`
	Occurrence  int      `json:"occurrence"`
	Ack         string   `json:"ack"`
	ImpactedHLS []string `json:"impacted_hls"`
	Members     []int64  `json:"members"`
	History     []struct {
		Value string `json:"value"`
		Text  string `json:"text"`
	} `json:"history"`
}

type pipeline struct {
	app    *app.App
	cancel context.CancelFunc
	clock  time.Time
}

func startPipeline() *pipeline {
	cfg, err := config.Parse([]byte(testConfig))
	Expect(err).NotTo(HaveOccurred())

	logger := slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, cancel := context.WithCancel(context.Background())

	a, err := app.New(ctx, cfg, "", logger)
	Expect(err).NotTo(HaveOccurred())

	go func() {
		defer GinkgoRecover()
		_ = a.Start(ctx)
	}()

	return &pipeline{
		app:    a,
		cancel: cancel,
		clock:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (p *pipeline) stop() {
	p.cancel()
	p.app.Close()
}

func (p *pipeline) do(method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.app.Server.App().Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, data
}

// observe posts an observation one minute after the previous one.
func (p *pipeline) observe(host, state string) {
	p.clock = p.clock.Add(time.Minute)
	status, body := p.do(http.MethodPost, "/v1/events", map[string]any{
		"type":      "event",
		"host":      host,
		"state":     state,
		"message":   host + " " + state,
		"timestamp": p.clock.Format(time.RFC3339),
	})
	Expect(status).To(Equal(http.StatusAccepted), string(body))
}

func (p *pipeline) incidents() []incident {
	status, body := p.do(http.MethodGet, "/v1/incidents", nil)
	Expect(status).To(Equal(http.StatusOK))

	var resp envelope[[]incident]
	Expect(json.Unmarshal(body, &resp)).To(Succeed())
	return resp.Data
}

func (p *pipeline) incident(id int64) incident {
	status, body := p.do(http.MethodGet, "/v1/incidents/"+strconv.FormatInt(id, 10), nil)
	Expect(status).To(Equal(http.StatusOK), string(body))

	var resp envelope[incident]
	Expect(json.Unmarshal(body, &resp)).To(Succeed())
	return resp.Data
}

func (p *pipeline) ack(id int64, state string) int {
	status, _ := p.do(http.MethodPost, "/v1/incidents/"+strconv.FormatInt(id, 10)+"/ack", map[string]string{
		"ack":      state,
		"username": "oncall",
	})
	return status
}

var _ = Describe("Correlator pipeline", func() {
	var p *pipeline

	BeforeEach(func() {
		p = startPipeline()
	})

	AfterEach(func() {
		p.stop()
	})

	Describe("HTTP surface", func() {
		It("reports healthy", func() {
			status, _ := p.do(http.MethodGet, "/healthz", nil)
			Expect(status).To(Equal(http.StatusOK))
		})

		It("exposes prometheus metrics", func() {
			status, body := p.do(http.MethodGet, "/metrics", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("go_goroutines"))
		})

		It("rejects invalid messages", func() {
			status, _ := p.do(http.MethodPost, "/v1/events", map[string]any{"type": "event", "state": "DOWN"})
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for unknown incidents", func() {
			status, _ := p.do(http.MethodGet, "/v1/incidents/999", nil)
			Expect(status).To(Equal(http.StatusNotFound))
		})

		It("reloads rules and serves statistics", func() {
			status, body := p.do(http.MethodPost, "/v1/rules/reload", nil)
			Expect(status).To(Equal(http.StatusOK), string(body))

			var reload envelope[struct {
				Rules []string `json:"rules"`
			}]
			Expect(json.Unmarshal(body, &reload)).To(Succeed())
			Expect(reload.Data.Rules).To(ConsistOf("topology", "priority", "hls", "silence"))

			status, body = p.do(http.MethodGet, "/v1/stats", nil)
			Expect(status).To(Equal(http.StatusOK))
			var stats envelope[map[string]float64]
			Expect(json.Unmarshal(body, &stats)).To(Succeed())
			Expect(stats.Data).To(HaveKey("rule-topology"))
			Expect(stats.Data).To(HaveKey("rule-total"))
		})
	})

	Describe("incident creation", func() {
		It("creates one incident per failing item with rule priority and impacted services", func() {
			p.observe("h3", "DOWN")

			Eventually(p.incidents).Should(HaveLen(1))
			inc := p.incident(p.incidents()[0].ID)
			Expect(inc.Priority).To(Equal(1))
			Expect(inc.Ack).To(Equal("NONE"))
			Expect(inc.ImpactedHLS).To(Equal([]string{"storefront"}))
			Expect(inc.Members).To(HaveLen(1))
		})

		It("suppresses silenced hosts", func() {
			p.observe("lab", "DOWN")
			p.observe("h1", "DOWN")

			Eventually(p.incidents).Should(HaveLen(1))
			Consistently(p.incidents, 200*time.Millisecond).Should(HaveLen(1))
		})
	})

	Describe("three hosts in a chain", func() {
		It("folds every outage under the root cause once the middle host fails", func() {
			p.observe("h1", "DOWN")
			p.observe("h3", "DOWN")
			Eventually(p.incidents).Should(HaveLen(2))

			p.observe("h2", "DOWN")

			Eventually(p.incidents).Should(HaveLen(1))
			root := p.incidents()[0]
			Eventually(func() []int64 {
				return p.incident(root.ID).Members
			}).Should(HaveLen(3))
		})
	})

	Describe("disaggregation", func() {
		It("splits dependents into their own incident when the cause recovers", func() {
			p.observe("b", "DOWN")
			Eventually(p.incidents).Should(HaveLen(1))
			cause := p.incidents()[0]

			p.observe("a", "DOWN")
			Eventually(func() []int64 {
				return p.incident(cause.ID).Members
			}).Should(HaveLen(2))

			p.observe("b", "UP")

			Eventually(p.incidents).Should(HaveLen(2))
			Expect(p.incident(cause.ID).Members).To(HaveLen(1))
		})
	})

	Describe("acknowledgement", func() {
		It("moves forward, rejects going back and reactivates on a new outage", func() {
			p.observe("h1", "DOWN")
			Eventually(p.incidents).Should(HaveLen(1))
			id := p.incidents()[0].ID

			Expect(p.ack(id, "KNOWN")).To(Equal(http.StatusOK))
			Expect(p.ack(id, "NONE")).To(Equal(http.StatusConflict))
			Expect(p.ack(id, "bogus")).To(Equal(http.StatusBadRequest))
			Expect(p.ack(id, "CLOSED")).To(Equal(http.StatusOK))
			Expect(p.incident(id).Ack).To(Equal("CLOSED"))

			p.observe("h1", "DOWN")

			Eventually(func() string {
				return p.incident(id).Ack
			}).Should(Equal("NONE"))
			history := p.incident(id).History
			Expect(history).To(HaveLen(3))
			Expect(history[2].Text).To(Equal("reactivated due to new outage"))
		})

		It("keeps a closed incident closed when its cause recovers", func() {
			p.observe("h1", "DOWN")
			Eventually(p.incidents).Should(HaveLen(1))
			id := p.incidents()[0].ID
			Expect(p.ack(id, "CLOSED")).To(Equal(http.StatusOK))

			p.observe("h1", "UP")
			p.observe("h1", "DOWN")

			Eventually(p.incidents).Should(HaveLen(2))
			Expect(p.incident(id).Ack).To(Equal("CLOSED"))
		})
	})
})
