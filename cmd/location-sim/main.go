package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const metersPerDegreeLat = 111_320.0

type fixPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
	Accuracy  float64 `json:"accuracy"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	deviceID := flag.String("device-id", "sim-device-1", "Device identifier used in the default topic")
	topic := flag.String("topic", "", "Location topic (defaults to geoattend/devices/<device-id>/location)")
	siteLat := flag.Float64("site-lat", 55.7558, "Site center latitude")
	siteLon := flag.Float64("site-lon", 37.6176, "Site center longitude")
	radius := flag.Float64("radius", 100, "Site radius in meters")
	interval := flag.Duration("interval", 10*time.Second, "Interval between published fixes")
	dwell := flag.Int("dwell", 6, "Fixes published on each side of the boundary before crossing")
	accuracy := flag.Float64("accuracy", 8, "Reported horizontal accuracy in meters")

	flag.Parse()

	if *topic == "" {
		*topic = fmt.Sprintf("geoattend/devices/%s/location", *deviceID)
	}
	if *dwell <= 0 {
		*dwell = 1
	}

	clientID := fmt.Sprintf("%s-location-sim-%d", *deviceID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	tick := 0

	publish := func() {
		inside := (tick / *dwell)%2 == 0
		tick++

		// Inside fixes stay well within the radius, outside fixes well beyond it.
		dist := *radius * (0.1 + 0.3*rng.Float64())
		if !inside {
			dist = *radius * (2 + rng.Float64())
		}
		lat, lon := offset(*siteLat, *siteLon, dist, rng.Float64()*2*math.Pi)

		data, err := json.Marshal(fixPayload{
			Latitude:  lat,
			Longitude: lon,
			Timestamp: time.Now().Unix(),
			Accuracy:  *accuracy,
		})
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		token := client.Publish(*topic, 1, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s lat=%.6f lon=%.6f inside=%t distance=%.0fm", *topic, lat, lon, inside, dist)
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

// offset moves a point by meters along bearing using a flat-earth
// approximation, accurate enough for a few hundred meters.
func offset(lat, lon, meters, bearing float64) (float64, float64) {
	dLat := meters * math.Cos(bearing) / metersPerDegreeLat
	dLon := meters * math.Sin(bearing) / (metersPerDegreeLat * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}
