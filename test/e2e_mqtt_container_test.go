package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"vetdispatch/core/dispatch"
	"vetdispatch/core/geo"
	"vetdispatch/core/model"
	"vetdispatch/core/notify"
	"vetdispatch/core/patient"
	"vetdispatch/infra/directory"
	inframetrics "vetdispatch/infra/metrics"
	"vetdispatch/infra/mqtt"
	"vetdispatch/infra/store/memory"
)

const statusTopic = "notices/status"

func waitForMQTTReady(broker string, timeout time.Duration) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		lastErr = token.Error()
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for broker")
	}
	return lastErr
}

func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	conf := `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
log_type notice
`
	dir := t.TempDir()
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{
			{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0644,
			},
		},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("container start: %v", err)
	}
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())
	if err := waitForMQTTReady(broker, 5*time.Second); err != nil {
		t.Logf("mosquitto not ready: %v", err)
		t.Skip("Mosquitto not ready after retries")
	}
	return cont, broker
}

// vetAppSim plays the role of the delivery pipeline plus a veterinarian's
// app: it collects notices from the per-recipient topics and publishes
// delivery receipts back on the status topic.
type vetAppSim struct {
	cli     paho.Client
	mu      sync.Mutex
	notices []notify.Notice
}

func connectVetAppSim(t *testing.T, broker string) *vetAppSim {
	t.Helper()
	sim := &vetAppSim{}
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("vet-app-sim")
	cli := paho.NewClient(opts)
	var connErr error
	for i := 0; i < 5; i++ {
		token := cli.Connect()
		token.Wait()
		connErr = token.Error()
		if connErr == nil {
			break
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	if connErr != nil {
		t.Logf("sim connect failed: %v", connErr)
		t.Skip("Mosquitto not ready after retries")
	}
	sim.cli = cli
	handler := func(_ paho.Client, m paho.Message) {
		var n notify.Notice
		if err := json.Unmarshal(m.Payload(), &n); err != nil {
			return
		}
		sim.mu.Lock()
		sim.notices = append(sim.notices, n)
		sim.mu.Unlock()
		if n.Vet && n.Kind == notify.KindCaseAvailable {
			receipt, _ := json.Marshal(map[string]any{
				"request_id": n.RequestID,
				"vet_id":     n.RecipientID,
				"status":     "read",
				"timestamp":  time.Now().UnixMilli(),
			})
			cli.Publish(statusTopic, 1, false, receipt)
		}
	}
	for _, topic := range []string{"vets/+/notices", "owners/+/notices"} {
		if token := cli.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			t.Fatalf("subscribe %s: %v", topic, token.Error())
		}
	}
	return sim
}

func (s *vetAppSim) received(match func(notify.Notice) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notices {
		if match(n) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func waitForMetric(t *testing.T, url, substr string, timeout time.Duration) {
	t.Helper()
	waitFor(t, timeout, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return strings.Contains(string(body), substr)
	})
}

func TestDispatchOverMQTTContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx := context.Background()

	cont, broker := startMosquitto(ctx, t)
	defer func() { _ = cont.Terminate(ctx) }()

	sim := connectVetAppSim(t, broker)
	defer sim.cli.Disconnect(100)

	// Receipts feed back into the engine created below.
	var engine *dispatch.Engine
	gw, err := mqtt.NewGateway(mqtt.Config{
		Broker:      broker,
		ClientID:    "dispatcher",
		StatusTopic: statusTopic,
	}, func(requestID, vetID string, status model.DeliveryStatus, at time.Time) {
		if engine == nil {
			return
		}
		_ = engine.HandleDeliveryStatus(context.Background(), requestID, vetID, status, at)
	})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	defer gw.Disconnect()

	reg := prometheus.NewRegistry()
	sink, err := inframetrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	store := memory.New()
	ledger := patient.NewLedger(store, gw, nil)
	matcher := geo.NewMatcher(directory.NewRegistry([]model.Veterinarian{
		{ID: "vet-1", Location: model.Location{Lat: 46.21, Lon: 6.15}, Verified: true, Available: true},
	}), nil)
	engine, err = dispatch.NewEngine(store, matcher, gw, ledger, dispatch.Config{}, sink, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	metricsTS := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer metricsTS.Close()

	req, err := engine.CreateRequest(ctx, model.SymptomReport{
		ID:       "report-1",
		AnimalID: "animal-1",
		OwnerID:  "owner-1",
		Symptoms: "vomiting since this morning",
		Severity: model.SeverityModerate,
		Location: model.Location{Lat: 46.2044, Lon: 6.1432},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if len(req.Notified) != 1 {
		t.Fatalf("notified = %v", req.Notified)
	}

	// The simulated vet app receives the fan-out over the broker.
	waitFor(t, 5*time.Second, func() bool {
		return sim.received(func(n notify.Notice) bool {
			return n.Kind == notify.KindCaseAvailable && n.RecipientID == "vet-1" && n.RequestID == req.ID
		})
	})

	// Its read receipt travels back over the status topic into the store.
	waitFor(t, 5*time.Second, func() bool {
		rec, err := store.GetNotification(ctx, req.ID, "vet-1")
		return err == nil && rec.ReadAt != nil
	})

	pat, err := engine.Accept(ctx, req.ID, "vet-1", "on my way")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if pat.AnimalID != "animal-1" || pat.Status != model.PatientActive {
		t.Fatalf("patient = %+v", pat)
	}

	// The owner confirmation goes out over the broker as well.
	waitFor(t, 5*time.Second, func() bool {
		return sim.received(func(n notify.Notice) bool {
			return n.Kind == notify.KindCaseAccepted && n.RecipientID == "owner-1"
		})
	})

	waitForMetric(t, metricsTS.URL, `dispatch_outcomes_total{event="accepted",priority="normal",status="accepted"} 1`, 5*time.Second)
}
