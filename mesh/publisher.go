package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes fit reports to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	reports       map[string]FitReport
	mu            sync.RWMutex
}

// NewPublisher creates a report publisher using TopicPrefix(nil) as the prefix.
// If client is nil, publishing fails with a not-connected error.
func NewPublisher(client mqtt.Client) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: TopicPrefix(nil),
		qos:           1,    // reports are infrequent and should arrive
		retain:        true, // late subscribers get the last report per pair
		reports:       make(map[string]FitReport),
	}
}

// PublishReport publishes a report to <prefix>/fits/<id> and refreshes the
// combined summary on <prefix>/fits
func (p *Publisher) PublishReport(report FitReport) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if report.ID == "" {
		return fmt.Errorf("%w: report has no id", ErrInvalidInput)
	}

	p.mu.Lock()
	p.reports[report.ID] = report
	p.mu.Unlock()

	if err := p.publishIndividual(report); err != nil {
		log.Printf("[MQTT] Error publishing report for %s: %v", report.ID, err)
		return err
	}
	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] Error publishing combined reports: %v", err)
		return err
	}
	return nil
}

// ReportTopic is the topic a single pair's report is published to
func (p *Publisher) ReportTopic(id string) string {
	return fmt.Sprintf("%s/fits/%s", p.Prefix(), id)
}

// SummaryTopic is the topic the combined report list is published to
func (p *Publisher) SummaryTopic() string {
	return p.Prefix() + "/fits"
}

func (p *Publisher) publishIndividual(report FitReport) error {
	topic := p.ReportTopic(report.ID)

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	p.mu.RLock()
	qos, retain := p.qos, p.retain
	p.mu.RUnlock()

	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("[MQTT] Published %s", report)
	return nil
}

func (p *Publisher) publishCombined() error {
	reports := p.GetAllReports()
	if len(reports) == 0 {
		return nil
	}

	list := make([]FitReport, 0, len(reports))
	for _, r := range reports {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	message := map[string]interface{}{
		"fits":      list,
		"timestamp": time.Now().Unix(),
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined reports: %w", err)
	}

	topic := p.SummaryTopic()
	p.mu.RLock()
	qos, retain := p.qos, p.retain
	p.mu.RUnlock()

	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetReport returns the last report published for id
func (p *Publisher) GetReport(id string) (FitReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.reports[id]
	return r, ok
}

// GetAllReports returns a copy of all published reports keyed by ID
func (p *Publisher) GetAllReports() map[string]FitReport {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reports := make(map[string]FitReport, len(p.reports))
	for id, r := range p.reports {
		reports[id] = r
	}
	return reports
}

// ClearReport drops a report from the combined summary
func (p *Publisher) ClearReport(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reports, id)
}

// Prefix returns the topic prefix
func (p *Publisher) Prefix() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.publishPrefix
}

// SetPrefix changes the topic prefix; empty is ignored
func (p *Publisher) SetPrefix(prefix string) {
	if prefix == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishPrefix = prefix
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos > 2 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qos = qos
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retain = retain
}
