package telemetry

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

const alertsPath = "../../deploy/prometheus/alerts.yml"

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

func loadAlerts(t *testing.T) []alertGroup {
	t.Helper()
	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Skipf("Skipping test: alerts file not found at %s", alertsPath)
	}

	var config struct {
		Groups []alertGroup `yaml:"groups"`
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		t.Fatalf("Invalid YAML in alerts.yml: %v", err)
	}
	if len(config.Groups) == 0 {
		t.Fatal("alerts.yml 'groups' is empty or invalid")
	}
	return config.Groups
}

// TestAlertLabels verifies alerts have required labels.
func TestAlertLabels(t *testing.T) {
	for _, group := range loadAlerts(t) {
		for _, alert := range group.Rules {
			if alert.Alert == "" {
				continue // recording rule
			}
			if _, ok := alert.Labels["severity"]; !ok {
				t.Errorf("Alert '%s' missing 'severity' label", alert.Alert)
			}
			if _, ok := alert.Annotations["summary"]; !ok {
				t.Errorf("Alert '%s' missing 'summary' annotation", alert.Alert)
			}
		}
	}
}

var metricRef = regexp.MustCompile(`timelapse_[a-z_]+`)

// TestAlertMetricsExist verifies every metric referenced by an alert is exported.
func TestAlertMetricsExist(t *testing.T) {
	declared := declaredMetrics()

	for _, group := range loadAlerts(t) {
		for _, alert := range group.Rules {
			for _, ref := range metricRef.FindAllString(alert.Expr, -1) {
				name := ref
				for _, suffix := range []string{"_bucket", "_sum", "_count"} {
					name = strings.TrimSuffix(name, suffix)
				}
				if !declared[name] {
					t.Errorf("Alert '%s' references unknown metric %s", alert.Alert, ref)
				}
			}
		}
	}
}

func declaredMetrics() map[string]bool {
	collectors := []prometheus.Collector{
		CommitTransitionsTotal,
		CommitBarrierTimeoutsTotal,
		CommitParticipants,
		CommitPhaseDuration,
		PlaybackStepsTotal,
		PlaybackPlaying,
		DatabaseQueryDuration,
		DatabaseErrorsTotal,
		DatabaseConnectionsActive,
		APIRequestsTotal,
		APIRequestDuration,
		APIActiveConnections,
	}

	ch := make(chan *prometheus.Desc, len(collectors))
	go func() {
		for _, c := range collectors {
			c.Describe(ch)
		}
		close(ch)
	}()

	fqName := regexp.MustCompile(`fqName: "([^"]+)"`)
	names := make(map[string]bool)
	for desc := range ch {
		if m := fqName.FindStringSubmatch(desc.String()); m != nil {
			names[m[1]] = true
		}
	}
	return names
}
