package bus

import (
	"context"
	"testing"
	"time"

	"iot-systemv1/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.Reading, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go fo.Run(ctx, input)

	reading := model.Reading{
		DeviceID: "dev-1",
		SensorID: "dht11-1",
		Type:     model.TypeDHT11,
		Value:    map[string]any{"temperature": 28.5},
	}

	input <- reading
	time.Sleep(50 * time.Millisecond)

	select {
	case r := <-out1:
		if r.SensorID != "dht11-1" {
			t.Errorf("out1: expected sensor dht11-1, got %s", r.SensorID)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for reading")
	}

	select {
	case r := <-out2:
		if r.SensorID != "dht11-1" {
			t.Errorf("out2: expected sensor dht11-1, got %s", r.SensorID)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for reading")
	}

	cancel()
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New(1)
	_ = fo.Subscribe() // never drained, capacity 1

	drops := 0
	fo.OnDrop = func(subscriberIdx int) { drops++ }

	input := make(chan model.Reading, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	for i := 0; i < 3; i++ {
		input <- model.Reading{SensorID: "s"}
	}
	time.Sleep(50 * time.Millisecond)

	if drops != 2 {
		t.Fatalf("expected 2 drops, got %d", drops)
	}
}
