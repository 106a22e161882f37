// devicesim emulates one edge device for local development: it publishes
// plausible sensor readings on a fixed interval, answers config-get requests,
// and applies config-set commands the way the firmware does.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"iot-systemv1/internal/logger"
	"iot-systemv1/internal/model"
)

type simulator struct {
	deviceID string
	client   mqtt.Client
	log      *slog.Logger

	mu      sync.Mutex
	sensors []model.SensorConfig
}

func main() {
	deviceID := getEnv("DEVICE_ID", "esp32-sim-1")
	host := getEnv("BROKER_HOST", "localhost")
	port := getEnv("BROKER_PORT", "1883")
	intervalMs, _ := strconv.Atoi(getEnv("INTERVAL_MS", "2000"))
	if intervalMs <= 0 {
		intervalMs = 2000
	}

	slogger := logger.Init("devicesim", slog.LevelInfo)
	slogger = slogger.With(slog.String("device_id", deviceID))

	sim := &simulator{
		deviceID: deviceID,
		log:      slogger,
		sensors: []model.SensorConfig{
			{ID: "dht11-1", Desc: "ambient climate", Tipo: model.TypeDHT11, Pinos: []int{4}},
			{ID: "ds18b20-1", Desc: "probe temperature", Tipo: model.TypeDS18B20, Pinos: []int{5}},
			{ID: "hcsr04-1", Desc: "tank level", Tipo: model.TypeHCSR04, Pinos: []int{12, 13}},
			{ID: "keypad-1", Desc: "entry keypad", Tipo: model.TypeKeypad4x4, Pinos: []int{25, 26, 27, 32}},
			{ID: "relay-1", Desc: "pump relay", Tipo: model.TypeRelay, Pinos: []int{16}, Atributo1: 0},
			{ID: "sg90-1", Desc: "vent servo", Tipo: model.TypeSG90, Pinos: []int{17}, Atributo1: 0},
		},
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", host, port)).
		SetClientID(deviceID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slogger.Info("connected to broker", slog.String("broker", host+":"+port))
		c.Subscribe(deviceID+"/settings/sensors/get", 0, sim.handleConfigGet)
		c.Subscribe(deviceID+"/settings/sensors/set", 0, sim.handleConfigSet)
	})

	sim.client = mqtt.NewClient(opts)
	if tok := sim.client.Connect(); tok.Wait() && tok.Error() != nil {
		slogger.Error("broker connect failed", slog.Any("err", tok.Error()))
		os.Exit(1)
	}

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	slogger.Info("simulator running", slog.Int("sensors", len(sim.sensors)), slog.Int("interval_ms", intervalMs))
	for {
		select {
		case <-sigCh:
			slogger.Info("stopping")
			sim.client.Disconnect(250)
			return
		case <-ticker.C:
			sim.publishReadings()
		}
	}
}

// handleConfigGet answers with the device's full sensor configuration.
func (s *simulator) handleConfigGet(c mqtt.Client, _ mqtt.Message) {
	s.mu.Lock()
	body, err := json.Marshal(map[string]any{"sensors": s.sensors})
	s.mu.Unlock()
	if err != nil {
		return
	}
	topic := s.deviceID + "/settings/sensors/get/response"
	c.Publish(topic, 0, false, body)
	s.log.Info("published config", slog.String("topic", topic))
}

// handleConfigSet merges incoming sensor descriptors, like the firmware does
// when an actuator command arrives.
func (s *simulator) handleConfigSet(_ mqtt.Client, msg mqtt.Message) {
	var body struct {
		Sensors []model.SensorConfig `json:"sensors"`
	}
	if err := json.Unmarshal(msg.Payload(), &body); err != nil {
		s.log.Warn("bad config-set payload", slog.Any("err", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range body.Sensors {
		applied := false
		for i := range s.sensors {
			if s.sensors[i].ID == in.ID {
				s.sensors[i].Atributo1 = in.Atributo1
				applied = true
				break
			}
		}
		s.log.Info("config-set",
			slog.String("sensor_id", in.ID),
			slog.Any("atributo1", in.Atributo1),
			slog.Bool("known", applied))
	}
}

// publishReadings emits one reading per sensor in the platform wire format.
func (s *simulator) publishReadings() {
	s.mu.Lock()
	sensors := make([]model.SensorConfig, len(s.sensors))
	copy(sensors, s.sensors)
	s.mu.Unlock()

	for _, sc := range sensors {
		payload := map[string]any{
			"device_id": s.deviceID,
			"sensor_id": sc.ID,
			"type":      int(sc.Tipo),
			"values":    s.generate(sc),
		}
		body, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		topic := s.deviceID + "/sensors/" + sc.ID + "/data"
		s.client.Publish(topic, 0, false, body)
	}
}

// generate produces plausible values for a sensor type. Actuators report
// their current commanded state.
func (s *simulator) generate(sc model.SensorConfig) map[string]any {
	switch sc.Tipo {
	case model.TypeDHT11:
		return map[string]any{
			"temperature": round2(15 + rand.Float64()*20),
			"humidity":    round2(30 + rand.Float64()*50),
		}
	case model.TypeDS18B20:
		return map[string]any{"temperature": round2(10 + rand.Float64()*30)}
	case model.TypeHCSR04:
		return map[string]any{"distance": round2(2 + rand.Float64()*398)}
	case model.TypeMPU:
		return map[string]any{
			"accel_x": round2(rand.Float64()*4 - 2),
			"accel_y": round2(rand.Float64()*4 - 2),
			"accel_z": round2(rand.Float64()*4 - 2),
		}
	case model.TypeAPDS9960:
		return map[string]any{
			"proximity": rand.Intn(256),
			"red":       rand.Intn(256),
			"green":     rand.Intn(256),
			"blue":      rand.Intn(256),
		}
	case model.TypeJoystick:
		return map[string]any{
			"x":      rand.Intn(4096),
			"y":      rand.Intn(4096),
			"button": rand.Intn(2),
		}
	case model.TypeKeypad4x4:
		keys := "123A456B789C*0#D"
		return map[string]any{"input": string(keys[rand.Intn(len(keys))])}
	case model.TypeEncoder:
		return map[string]any{"position": rand.Intn(1024)}
	case model.TypeSG90:
		return map[string]any{"angle": sc.Atributo1}
	case model.TypeRelay:
		return map[string]any{"state": sc.Atributo1}
	default:
		return map[string]any{"value": rand.Intn(4096)}
	}
}

func round2(f float64) float64 {
	return float64(int(f*100)) / 100
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
