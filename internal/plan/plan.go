// Package plan converts QGroundControl .plan documents into MAVLink mission
// items and display waypoints for map rendering.
package plan

import (
	"encoding/json"
	"fmt"
	"math"
)

// Commands that carry no lat/lon in their param block.
const (
	CmdNavWaypoint       = 16
	CmdNavReturnToLaunch = 20
	CmdNavLand           = 21
	CmdNavSplineWaypoint = 82
	CmdDoJump            = 177
)

// coordEpsilon separates a real coordinate from the (0,0) placeholder QGC
// writes for coordless commands.
const coordEpsilon = 1e-7

// Document is a parsed QGroundControl .plan file.
type Document struct {
	Mission Mission `json:"mission"`
}

// Mission is the mission section of a .plan document.
type Mission struct {
	Items               []RawItem `json:"items"`
	PlannedHomePosition []float64 `json:"plannedHomePosition"`
}

// RawItem is one entry of mission.items as QGC writes it. Param entries may
// be null, so they decode as pointers.
type RawItem struct {
	Type         string     `json:"type"`
	Command      int        `json:"command"`
	Frame        *int       `json:"frame"`
	AutoContinue *bool      `json:"autoContinue"`
	Params       []*float64 `json:"params"`
	Altitude     float64    `json:"Altitude"`
	DoJumpID     *int       `json:"doJumpId"`
}

// Item is a flat mission item with MISSION_ITEM_INT semantics. Seq is the
// display sequence (doJumpId when present); the wire sequence during upload
// is the item's position in the list.
type Item struct {
	Seq          int        `json:"seq"`
	Command      int        `json:"command"`
	Frame        int        `json:"frame"`
	AutoContinue bool       `json:"autoContinue"`
	Params       [7]float64 `json:"params"`
	Lat          *float64   `json:"lat"`
	Lon          *float64   `json:"lon"`
	Alt          *float64   `json:"alt"`
}

// Waypoint is a [lat, lon] pair for map rendering.
type Waypoint [2]float64

// Decode parses raw .plan JSON into a Document.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse .plan JSON: %w", err)
	}
	if doc.Mission.Items == nil {
		return nil, fmt.Errorf("invalid .plan document: missing mission.items")
	}
	return &doc, nil
}

// Home returns the planned home position. ok is false when the document has
// no usable home (absent, short, or the (0,0) placeholder).
func (d *Document) Home() (lat, lon, alt float64, ok bool) {
	pos := d.Mission.PlannedHomePosition
	if len(pos) < 2 {
		return 0, 0, 0, false
	}
	lat, lon = pos[0], pos[1]
	if len(pos) >= 3 {
		alt = pos[2]
	}
	if math.Abs(lat) <= coordEpsilon || math.Abs(lon) <= coordEpsilon {
		return 0, 0, 0, false
	}
	return lat, lon, alt, true
}

// Parse converts a document into mission items plus the waypoint list used
// for map display. Items of any type other than SimpleItem are skipped.
func Parse(doc *Document) ([]Item, []Waypoint) {
	items := make([]Item, 0, len(doc.Mission.Items))
	waypoints := make([]Waypoint, 0, len(doc.Mission.Items))
	needReturnHome := false

	for _, raw := range doc.Mission.Items {
		if raw.Type != "SimpleItem" {
			continue
		}

		item := Item{
			Command:      raw.Command,
			Frame:        3, // MAV_FRAME_GLOBAL_RELATIVE_ALT
			AutoContinue: true,
		}
		if raw.Frame != nil {
			item.Frame = *raw.Frame
		}
		if raw.AutoContinue != nil {
			item.AutoContinue = *raw.AutoContinue
		}
		if raw.DoJumpID != nil {
			item.Seq = *raw.DoJumpID
		} else {
			item.Seq = len(items) + 1
		}

		for i := 0; i < 7 && i < len(raw.Params); i++ {
			if raw.Params[i] != nil {
				item.Params[i] = *raw.Params[i]
			}
		}

		lat, lon := item.Params[4], item.Params[5]
		hasCoords := math.Abs(lat) > coordEpsilon || math.Abs(lon) > coordEpsilon

		alt := item.Params[6]
		if len(raw.Params) <= 6 || raw.Params[6] == nil {
			alt = raw.Altitude
		}

		if hasCoords {
			item.Lat = &lat
			item.Lon = &lon
			item.Alt = &alt
			waypoints = append(waypoints, Waypoint{lat, lon})
		} else {
			item.Alt = &alt
			if raw.Command == CmdNavReturnToLaunch || raw.Command == CmdNavSplineWaypoint {
				needReturnHome = true
			}
		}

		items = append(items, item)
	}

	if needReturnHome {
		if homeLat, homeLon, _, ok := doc.Home(); ok && len(waypoints) > 0 {
			last := waypoints[len(waypoints)-1]
			if math.Abs(last[0]-homeLat) > coordEpsilon || math.Abs(last[1]-homeLon) > coordEpsilon {
				waypoints = append(waypoints, Waypoint{homeLat, homeLon})
			}
		}
	}

	return items, waypoints
}
