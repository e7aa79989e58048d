// devicesim simulates a wearable ring: it publishes status heartbeats
// with jittered location and a draining battery, raises SOS and tamper
// events on command, and listens for server acks on its ack topic.
//
// Commands on stdin: "s" sends an SOS, "t" sends a tamper event,
// "q" quits.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ~25 meters of jitter, in degrees.
const jitterDegrees = 25 * 0.000009

type simulator struct {
	client    mqtt.Client
	deviceID  string
	centerLat float64
	centerLon float64
	battery   int
}

func main() {
	broker := flag.String("broker", "broker.hivemq.com", "mqtt broker host")
	port := flag.Int("port", 1883, "mqtt broker port")
	deviceID := flag.String("device", "", "device id (default sim-ring-<random>)")
	lat := flag.Float64("lat", 13.0827, "center latitude")
	lon := flag.Float64("lon", 80.2707, "center longitude")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "heartbeat interval")
	battery := flag.Int("battery", 98, "starting battery percent")
	sosEvery := flag.Duration("sos-every", 0, "auto-fire an SOS at this interval (0 = manual only)")
	flag.Parse()

	id := *deviceID
	if id == "" {
		id = "sim-ring-" + uuid.NewString()[:6]
	}

	sim := &simulator{
		deviceID:  id,
		centerLat: *lat,
		centerLon: *lon,
		battery:   *battery,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", *broker, *port)).
		SetClientID(id + "-pubsub").
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true)
	opts.OnConnect = func(c mqtt.Client) {
		log.Printf("[device] connected as %s", id)
		ackTopic := fmt.Sprintf("wearable/%s/ack", id)
		if token := c.Subscribe(ackTopic, 1, sim.onAck); token.Wait() && token.Error() != nil {
			log.Printf("[device] ack subscribe failed: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("[device] connection lost: %v", err)
	}
	sim.client = mqtt.NewClient(opts)

	if token := sim.client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("[device] connect failed: %v", token.Error())
	}
	defer sim.client.Disconnect(500)

	done := make(chan struct{})
	go sim.heartbeatLoop(*heartbeat, done)
	if *sosEvery > 0 {
		go sim.autoSOSLoop(*sosEvery, done)
	}

	fmt.Println("Commands: 's' = SOS, 't' = tamper, 'q' = quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "s":
			sim.publishSOS("button_press")
		case "t":
			sim.publishTamper("strap_opened")
		case "q":
			close(done)
			log.Printf("[device] stopped")
			return
		}
	}
	close(done)
}

func (s *simulator) heartbeatLoop(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.publishStatus()
	for {
		select {
		case <-ticker.C:
			if s.battery > 1 && gofakeit.Bool() {
				s.battery--
			}
			s.publishStatus()
		case <-done:
			return
		}
	}
}

func (s *simulator) autoSOSLoop(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.publishSOS("auto_test")
		case <-done:
			return
		}
	}
}

func (s *simulator) jitteredLocation() (float64, float64) {
	return s.centerLat + gofakeit.Float64Range(-jitterDegrees, jitterDegrees),
		s.centerLon + gofakeit.Float64Range(-jitterDegrees, jitterDegrees)
}

func (s *simulator) publishStatus() {
	lat, lon := s.jitteredLocation()
	s.publish("status", 0, map[string]any{
		"deviceId":       s.deviceID,
		"ts":             isoNow(),
		"state":          "armed",
		"batteryPercent": s.battery,
		"lat":            round6(lat),
		"lon":            round6(lon),
	})
}

func (s *simulator) publishSOS(reason string) {
	lat, lon := s.jitteredLocation()
	log.Printf("[device] sending SOS (reason=%s)", reason)
	s.publish("sos", 1, map[string]any{
		"deviceId": s.deviceID,
		"ts":       isoNow(),
		"lat":      round6(lat),
		"lon":      round6(lon),
		"reason":   reason,
	})
}

func (s *simulator) publishTamper(reason string) {
	log.Printf("[device] sending tamper (reason=%s)", reason)
	s.publish("tamper", 1, map[string]any{
		"deviceId": s.deviceID,
		"ts":       isoNow(),
		"reason":   reason,
	})
}

func (s *simulator) publish(kind string, qos byte, payload map[string]any) {
	topic := fmt.Sprintf("wearable/%s/%s", s.deviceID, kind)
	buf, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[device] marshal %s: %v", kind, err)
		return
	}
	token := s.client.Publish(topic, qos, false, buf)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[device] publish %s failed: %v", kind, token.Error())
	}
}

func (s *simulator) onAck(_ mqtt.Client, msg mqtt.Message) {
	log.Printf("[device] ACK received: %s", msg.Payload())
}

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func round6(f float64) float64 {
	return float64(int64(f*1e6)) / 1e6
}
