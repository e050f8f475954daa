// Command gen-track generates deterministic synthetic drive CSVs for
// development and load testing, and optionally uploads them to a running
// server.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

type poi struct {
	name string
	lat  float64
	lon  float64
	alt  float64
}

var (
	badHomburg = poi{"badHomburg_Bahnhof", 50.2268, 8.6184, 190}
	eschborn   = poi{"eschborn_Mitte", 50.1433, 8.5715, 140}
	friedberg  = poi{"friedberg_Kaiser", 50.3367, 8.7526, 155}
	darmstadt  = poi{"darmstadt_Lichtwiese", 49.8589, 8.6738, 160}
)

type tripPlan struct {
	start   time.Time
	stepSec int
	durMin  int
	a, b    poi
}

type generator struct {
	rng   *rand.Rand
	noise distuv.Normal
}

func newGenerator(seed uint64) *generator {
	src := rand.NewPCG(seed, seed)
	return &generator{
		rng:   rand.New(src),
		noise: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

func (g *generator) randn(std float64) float64 { return g.noise.Rand() * std }

func clamp(x, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, x)) }

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func bearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	y := math.Sin(toRad(lon2-lon1)) * math.Cos(toRad(lat2))
	x := math.Cos(toRad(lat1))*math.Sin(toRad(lat2)) -
		math.Sin(toRad(lat1))*math.Cos(toRad(lat2))*math.Cos(toRad(lon2-lon1))
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// speedProfile ramps up, cruises with a little noise, then ramps down.
func (g *generator) speedProfile(i, n int, vmax, accelS, decelS float64, dt int) float64 {
	accelSteps := math.Max(1, math.Round(accelS/float64(dt)))
	decelSteps := math.Max(1, math.Round(decelS/float64(dt)))
	plateau := math.Max(0, float64(n)-accelSteps-decelSteps)

	var v float64
	fi := float64(i)
	switch {
	case fi < accelSteps:
		v = vmax * (fi / accelSteps)
	case fi < accelSteps+plateau:
		v = vmax + g.randn(2.5)
	default:
		k := fi - (accelSteps + plateau)
		v = vmax * (1 - k/decelSteps)
	}
	return clamp(v, 0, vmax+12)
}

// speedProfileMinute is the coarse 1-minute-step profile: zero at both ends,
// a smooth sine hump in between.
func (g *generator) speedProfileMinute(i, n int, vmax float64) float64 {
	if i == 0 || i == n-1 {
		return 0
	}
	t := float64(i) / float64(n-1)
	v := vmax*math.Sin(math.Pi*t) + g.randn(3)
	return clamp(v, 0, vmax+10)
}

func (g *generator) buildTrip(plan tripPlan, temp0, temp1, hum0, hum1 float64) []string {
	n := plan.durMin*60/plan.stepSec + 1
	brg := bearingDeg(plan.a.lat, plan.a.lon, plan.b.lat, plan.b.lon)
	hdopBase := 0.9 + g.rng.Float64()*0.4
	satsBase := 8 + g.rng.IntN(4)

	rows := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		lat := lerp(plan.a.lat, plan.b.lat, t)
		lon := lerp(plan.a.lon, plan.b.lon, t)
		alt := lerp(plan.a.alt, plan.b.alt, t)
		ts := plan.start.Add(time.Duration(i*plan.stepSec) * time.Second).UTC().Format(time.RFC3339)

		var v float64
		if plan.stepSec <= 5 {
			v = g.speedProfile(i, n, 100+g.rng.Float64()*8, 40+10*g.rng.Float64(), 60+15*g.rng.Float64(), plan.stepSec)
		} else {
			v = g.speedProfileMinute(i, n, 92+g.rng.Float64()*6)
		}

		hdop := clamp(hdopBase+g.randn(0.1), 0.6, 2.5)
		sats := int(clamp(float64(satsBase)+math.Round(g.randn(0.8)), 6, 13))
		course := math.Mod(brg+g.randn(2), 360)
		temp := lerp(temp0, temp1, t) + g.randn(0.1)
		hum := clamp(lerp(hum0, hum1, t)+g.randn(0.3), 30, 85)

		rows = append(rows, fmt.Sprintf("%s,%.6f,%.6f,%.1f,%.1f,%.2f,%d,%.1f,%.1f,%.1f",
			ts, lat, lon, alt, v, hdop, sats, course, temp, hum))
	}
	return rows
}

// weeklyPlan lays out the commute pattern: three office round trips a week,
// one evening errand, one weekend outing. The first week uses a 5s sample
// step, later weeks a 1-minute step.
func weeklyPlan(startMonday time.Time, weeks int) []tripPlan {
	var plans []tripPlan
	at := func(base time.Time, dow, hh, mm int) time.Time {
		return base.AddDate(0, 0, dow-1).Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}
	for w := 0; w < weeks; w++ {
		base := startMonday.AddDate(0, 0, w*7)
		stepSec := 60
		if w == 0 {
			stepSec = 5
		}
		for _, dow := range []int{1, 3, 5} {
			plans = append(plans,
				tripPlan{at(base, dow, 8, 0), stepSec, 25, badHomburg, eschborn},
				tripPlan{at(base, dow, 17, 30), stepSec, 25, eschborn, badHomburg},
			)
		}
		plans = append(plans,
			tripPlan{at(base, 2, 18, 30), 60, 25, badHomburg, friedberg},
			tripPlan{at(base, 2, 20, 0), 60, 25, friedberg, badHomburg},
			tripPlan{at(base, 6, 10, 0), 60, 60, badHomburg, darmstadt},
			tripPlan{at(base, 6, 15, 0), 60, 60, darmstadt, badHomburg},
		)
	}
	return plans
}

func lastMonday(now time.Time) time.Time {
	daysBack := (int(now.Weekday()) + 6) % 7
	d := now.AddDate(0, 0, -daysBack)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func main() {
	start := flag.String("start", "", "Start Monday (YYYY-MM-DD, default: most recent Monday)")
	weeks := flag.Int("weeks", 1, "Number of weeks to generate")
	outfile := flag.String("o", "example_drives.csv", "Output CSV path")
	server := flag.String("server", "", "Upload to this server after writing (e.g. http://localhost:8080)")
	device := flag.String("device", "development", "Device name sent as X-Auth-User on upload")
	seed := flag.Uint64("seed", 1337, "Random seed")
	flag.Parse()

	startMonday := lastMonday(time.Now().UTC())
	if *start != "" {
		t, err := time.Parse("2006-01-02", *start)
		if err != nil {
			log.Fatalf("bad -start date, use YYYY-MM-DD: %v", err)
		}
		startMonday = t
	}

	g := newGenerator(*seed)
	lines := []string{"timestamp,lat,lon,alt,speed_kmh,hdop,satellites,course,temp_c,hum_pct"}
	for _, plan := range weeklyPlan(startMonday, *weeks) {
		rows := g.buildTrip(plan,
			21+g.rng.Float64()*3, 24+g.rng.Float64()*3,
			55+g.rng.Float64()*10, 45+g.rng.Float64()*10)
		lines = append(lines, rows...)
	}

	body := strings.Join(lines, "\n")
	if err := os.WriteFile(*outfile, []byte(body), 0o644); err != nil {
		log.Fatalf("failed to write CSV: %v", err)
	}
	log.Printf("CSV written: %s (%d rows)", *outfile, len(lines)-1)

	if *server != "" {
		name := url.PathEscape(filepath.Base(*outfile))
		req, err := http.NewRequest(http.MethodPost,
			strings.TrimRight(*server, "/")+"/upload/"+name,
			bytes.NewReader([]byte(body)))
		if err != nil {
			log.Fatalf("failed to build upload request: %v", err)
		}
		req.Header.Set("Content-Type", "text/csv")
		req.Header.Set("X-Auth-User", *device)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatalf("upload failed: %v", err)
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Printf("Upload: %d %s", resp.StatusCode, respBody)
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
	}
}
