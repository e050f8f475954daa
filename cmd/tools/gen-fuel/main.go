// Command gen-fuel seeds a development database with a few fuel fills so
// the dashboard and consumption endpoints have data to show.
package main

import (
	"flag"
	"log"

	"github.com/cartracker-data/cartracker/internal/db"
)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func main() {
	dbFile := flag.String("db", "./data/cartracker.db", "Database file")
	user := flag.String("user", "development", "User to attribute fills to")
	flag.Parse()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	fills := []db.FuelFill{
		{
			TS:             "2025-08-18T07:45:00Z",
			Liters:         f(45.2),
			PricePerL:      f(1.659),
			AmountFuel:     f(45.2 * 1.659),
			AmountTotal:    f(45.2 * 1.659),
			StationName:    s("Shell"),
			StationZip:     s("60311"),
			StationCity:    s("Frankfurt"),
			StationAddress: s("Hauptstraße 123"),
			FullTank:       true,
			Lat:            f(50.2268),
			Lon:            f(8.6184),
			User:           *user,
		},
		{
			TS:             "2025-08-17T16:30:00Z",
			Liters:         f(38.7),
			PricePerL:      f(1.649),
			AmountFuel:     f(38.7 * 1.649),
			AmountTotal:    f(38.7 * 1.649),
			StationName:    s("Aral"),
			StationZip:     s("60329"),
			StationCity:    s("Frankfurt"),
			StationAddress: s("Bockenheimer Landstraße 45"),
			FullTank:       true,
			Lat:            f(50.223456),
			Lon:            f(8.621234),
			User:           *user,
		},
		{
			TS:             "2025-08-16T10:15:00Z",
			Liters:         f(42.1),
			PricePerL:      f(1.672),
			AmountFuel:     f(42.1 * 1.672),
			AmountTotal:    f(42.1*1.672 + 1.50),
			StationName:    s("Esso"),
			StationZip:     s("60325"),
			StationCity:    s("Frankfurt"),
			StationAddress: s("Zeil 100"),
			FullTank:       true,
			Lat:            f(50.2289),
			Lon:            f(8.6156),
			User:           *user,
		},
	}

	log.Print("Inserting test fuel data...")
	for _, fill := range fills {
		id, err := database.InsertFuelFill(&fill)
		if err != nil {
			log.Fatalf("failed to insert fill: %v", err)
		}
		log.Printf("✓ Added fuel record %d: %s - %.1fL - %.2f€", id, *fill.StationName, *fill.Liters, *fill.AmountTotal)
	}
}
