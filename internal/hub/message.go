// Package hub implements the typed broadcast fabric between the pipeline
// and its WebSocket subscribers, and defines the wire message set. Messages
// are JSON objects discriminated by a "type" field with lowerCamelCase
// payload fields; the wire format is the ground truth for consumers.
package hub

import (
	"encoding/json"
	"fmt"

	"github.com/quicktime/orderflow-bubbles/internal/clock"
	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// Wire message type tags.
const (
	TypeBubble           = "Bubble"
	TypeCVDPoint         = "CVDPoint"
	TypeVolumeProfile    = "VolumeProfile"
	TypeAbsorption       = "Absorption"
	TypeAbsorptionZones  = "AbsorptionZones"
	TypeDeltaFlip        = "DeltaFlip"
	TypeStackedImbalance = "StackedImbalance"
	TypeConfluence       = "Confluence"
	TypeSessionStats     = "SessionStats"
	TypeReplayStatus     = "ReplayStatus"
	TypeConnected        = "Connected"
	TypeError            = "Error"
)

// emitX is the initial horizontal placement of freshly emitted events on
// the consumer's time axis.
const emitX = 0.92

// Message is any broadcast wire message.
type Message interface {
	MessageType() string
}

// Bubble is one closed 1-second aggregate rendered as a bubble: price and
// size describe the dominant (aggressing) side.
type Bubble struct {
	Type                   string  `json:"type"`
	ID                     string  `json:"id"`
	Price                  float64 `json:"price"`
	Size                   int64   `json:"size"`
	Side                   string  `json:"side"`
	Timestamp              int64   `json:"timestamp"`
	X                      float64 `json:"x"`
	Opacity                float64 `json:"opacity"`
	IsSignificantImbalance bool    `json:"isSignificantImbalance"`
}

func (Bubble) MessageType() string { return TypeBubble }

// NewBubble converts an aggregate into its wire form.
func NewBubble(id string, agg domain.Aggregate) Bubble {
	return Bubble{
		Type:                   TypeBubble,
		ID:                     id,
		Price:                  agg.DominantVWAP,
		Size:                   agg.DominantVolume(),
		Side:                   string(agg.DominantSide),
		Timestamp:              agg.BucketStart,
		X:                      emitX,
		Opacity:                1.0,
		IsSignificantImbalance: agg.SignificantImbalance,
	}
}

// CVDPoint is one cumulative-delta sample.
type CVDPoint struct {
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	Value     int64   `json:"value"`
	X         float64 `json:"x"`
}

func (CVDPoint) MessageType() string { return TypeCVDPoint }

// NewCVDPoint converts a CVD sample into its wire form.
func NewCVDPoint(p domain.CVDPoint) CVDPoint {
	return CVDPoint{Type: TypeCVDPoint, Timestamp: p.Timestamp, Value: p.Value, X: emitX}
}

// VolumeProfileLevel is one histogram row.
type VolumeProfileLevel struct {
	Price       float64 `json:"price"`
	BuyVolume   int64   `json:"buyVolume"`
	SellVolume  int64   `json:"sellVolume"`
	TotalVolume int64   `json:"totalVolume"`
}

// VolumeProfile is the once-per-second profile snapshot.
type VolumeProfile struct {
	Type   string               `json:"type"`
	Levels []VolumeProfileLevel `json:"levels"`
}

func (VolumeProfile) MessageType() string { return TypeVolumeProfile }

// NewVolumeProfile converts a profile snapshot into its wire form.
func NewVolumeProfile(snap domain.ProfileSnapshot) VolumeProfile {
	levels := make([]VolumeProfileLevel, len(snap.Levels))
	for i, lv := range snap.Levels {
		levels[i] = VolumeProfileLevel{
			Price:       lv.Price,
			BuyVolume:   lv.BuyVolume,
			SellVolume:  lv.SellVolume,
			TotalVolume: lv.TotalVolume,
		}
	}
	return VolumeProfile{Type: TypeVolumeProfile, Levels: levels}
}

// Absorption is an emitted absorption event.
type Absorption struct {
	Type           string  `json:"type"`
	Timestamp      int64   `json:"timestamp"`
	Price          float64 `json:"price"`
	AbsorptionType string  `json:"absorptionType"`
	Delta          int64   `json:"delta"`
	PriceChange    float64 `json:"priceChange"`
	Strength       string  `json:"strength"`
	EventCount     int     `json:"eventCount"`
	TotalAbsorbed  int64   `json:"totalAbsorbed"`
	AtKeyLevel     bool    `json:"atKeyLevel"`
	AgainstTrend   bool    `json:"againstTrend"`
	X              float64 `json:"x"`
}

func (Absorption) MessageType() string { return TypeAbsorption }

// NewAbsorption converts an absorption event into its wire form.
func NewAbsorption(ev domain.AbsorptionEvent) Absorption {
	return Absorption{
		Type:           TypeAbsorption,
		Timestamp:      ev.Timestamp,
		Price:          ev.Price,
		AbsorptionType: string(ev.Type),
		Delta:          ev.Delta,
		PriceChange:    ev.PriceChange,
		Strength:       string(ev.Strength),
		EventCount:     ev.EventCount,
		TotalAbsorbed:  ev.TotalAbsorbed,
		AtKeyLevel:     ev.AtKeyLevel,
		AgainstTrend:   ev.AgainstTrend,
		X:              emitX,
	}
}

// AbsorptionZone is one live accumulator in the zones snapshot.
type AbsorptionZone struct {
	Price          float64 `json:"price"`
	AbsorptionType string  `json:"absorptionType"`
	TotalAbsorbed  int64   `json:"totalAbsorbed"`
	EventCount     int     `json:"eventCount"`
	FirstSeen      int64   `json:"firstSeen"`
	LastSeen       int64   `json:"lastSeen"`
	Strength       string  `json:"strength"`
	PeakStrength   string  `json:"peakStrength"`
	AtPoc          bool    `json:"atPoc"`
	AtVah          bool    `json:"atVah"`
	AtVal          bool    `json:"atVal"`
	AgainstTrend   bool    `json:"againstTrend"`
}

// AbsorptionZones is the once-per-second zones snapshot.
type AbsorptionZones struct {
	Type  string           `json:"type"`
	Zones []AbsorptionZone `json:"zones"`
}

func (AbsorptionZones) MessageType() string { return TypeAbsorptionZones }

// NewAbsorptionZones converts a zones snapshot into its wire form.
func NewAbsorptionZones(zones []domain.AbsorptionZone) AbsorptionZones {
	out := make([]AbsorptionZone, len(zones))
	for i, z := range zones {
		out[i] = AbsorptionZone{
			Price:          z.Price,
			AbsorptionType: string(z.Type),
			TotalAbsorbed:  z.TotalAbsorbed,
			EventCount:     z.EventCount,
			FirstSeen:      z.FirstSeen,
			LastSeen:       z.LastSeen,
			Strength:       string(z.Strength),
			PeakStrength:   string(z.PeakStrength),
			AtPoc:          z.AtPOC,
			AtVah:          z.AtVAH,
			AtVal:          z.AtVAL,
			AgainstTrend:   z.AgainstTrend,
		}
	}
	return AbsorptionZones{Type: TypeAbsorptionZones, Zones: out}
}

// DeltaFlip is a CVD zero-cross event.
type DeltaFlip struct {
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	FlipType  string  `json:"flipType"`
	Direction string  `json:"direction"`
	CVDBefore int64   `json:"cvdBefore"`
	CVDAfter  int64   `json:"cvdAfter"`
	X         float64 `json:"x"`
}

func (DeltaFlip) MessageType() string { return TypeDeltaFlip }

// NewDeltaFlip converts a flip event into its wire form.
func NewDeltaFlip(ev domain.DeltaFlip) DeltaFlip {
	return DeltaFlip{
		Type:      TypeDeltaFlip,
		Timestamp: ev.Timestamp,
		FlipType:  "zero_cross",
		Direction: string(ev.Direction),
		CVDBefore: ev.CVDBefore,
		CVDAfter:  ev.CVDAfter,
		X:         emitX,
	}
}

// StackedImbalance is a stacked-imbalance event.
type StackedImbalance struct {
	Type           string  `json:"type"`
	Timestamp      int64   `json:"timestamp"`
	Side           string  `json:"side"`
	LevelCount     int     `json:"levelCount"`
	PriceHigh      float64 `json:"priceHigh"`
	PriceLow       float64 `json:"priceLow"`
	TotalImbalance int64   `json:"totalImbalance"`
	X              float64 `json:"x"`
}

func (StackedImbalance) MessageType() string { return TypeStackedImbalance }

// NewStackedImbalance converts a stacked-imbalance event into its wire form.
func NewStackedImbalance(ev domain.StackedImbalance) StackedImbalance {
	return StackedImbalance{
		Type:           TypeStackedImbalance,
		Timestamp:      ev.Timestamp,
		Side:           string(ev.Side),
		LevelCount:     ev.LevelCount,
		PriceHigh:      ev.PriceHigh,
		PriceLow:       ev.PriceLow,
		TotalImbalance: ev.TotalImbalance,
		X:              emitX,
	}
}

// Confluence is a confluence event.
type Confluence struct {
	Type      string   `json:"type"`
	Timestamp int64    `json:"timestamp"`
	Price     float64  `json:"price"`
	Direction string   `json:"direction"`
	Score     int      `json:"score"`
	Signals   []string `json:"signals"`
	X         float64  `json:"x"`
}

func (Confluence) MessageType() string { return TypeConfluence }

// NewConfluence converts a confluence event into its wire form.
func NewConfluence(ev domain.ConfluenceEvent) Confluence {
	return Confluence{
		Type:      TypeConfluence,
		Timestamp: ev.Timestamp,
		Price:     ev.Price,
		Direction: string(ev.Direction),
		Score:     ev.Score,
		Signals:   ev.Signals,
		X:         emitX,
	}
}

// SignalTypeStats is the per-type block of a SessionStats message.
type SignalTypeStats struct {
	Count        int     `json:"count"`
	BullishCount int     `json:"bullishCount"`
	BearishCount int     `json:"bearishCount"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	AvgMove1m    float64 `json:"avgMove1m"`
	AvgMove5m    float64 `json:"avgMove5m"`
	WinRate      float64 `json:"winRate"`
}

// SessionStats is the once-per-second session statistics snapshot.
type SessionStats struct {
	Type              string          `json:"type"`
	SessionStart      int64           `json:"sessionStart"`
	DeltaFlips        SignalTypeStats `json:"deltaFlips"`
	Absorptions       SignalTypeStats `json:"absorptions"`
	StackedImbalances SignalTypeStats `json:"stackedImbalances"`
	Confluences       SignalTypeStats `json:"confluences"`
	CurrentPrice      float64         `json:"currentPrice"`
	SessionHigh       float64         `json:"sessionHigh"`
	SessionLow        float64         `json:"sessionLow"`
	TotalVolume       int64           `json:"totalVolume"`
}

func (SessionStats) MessageType() string { return TypeSessionStats }

// NewSessionStats converts a stats snapshot into its wire form.
func NewSessionStats(s domain.SessionStats) SessionStats {
	conv := func(st domain.SignalStats) SignalTypeStats {
		return SignalTypeStats{
			Count:        st.Count,
			BullishCount: st.BullishCount,
			BearishCount: st.BearishCount,
			Wins:         st.Wins,
			Losses:       st.Losses,
			AvgMove1m:    st.AvgMove1m,
			AvgMove5m:    st.AvgMove5m,
			WinRate:      st.WinRate,
		}
	}
	return SessionStats{
		Type:              TypeSessionStats,
		SessionStart:      s.SessionStart,
		DeltaFlips:        conv(s.DeltaFlips),
		Absorptions:       conv(s.Absorptions),
		StackedImbalances: conv(s.StackedImbalances),
		Confluences:       conv(s.Confluences),
		CurrentPrice:      s.CurrentPrice,
		SessionHigh:       s.SessionHigh,
		SessionLow:        s.SessionLow,
		TotalVolume:       s.TotalVolume,
	}
}

// ReplayStatus reports the virtual clock state during replay.
type ReplayStatus struct {
	Type             string  `json:"type"`
	Paused           bool    `json:"paused"`
	Speed            float64 `json:"speed"`
	CurrentTimestamp int64   `json:"currentTimestamp"`
}

func (ReplayStatus) MessageType() string { return TypeReplayStatus }

// NewReplayStatus converts a clock status into its wire form.
func NewReplayStatus(st clock.Status) ReplayStatus {
	return ReplayStatus{
		Type:             TypeReplayStatus,
		Paused:           st.Paused,
		Speed:            st.Speed,
		CurrentTimestamp: st.CurrentMillis,
	}
}

// Connected greets a new subscriber with the session shape.
type Connected struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Mode    string   `json:"mode"`
}

func (Connected) MessageType() string { return TypeConnected }

// NewConnected builds the welcome message.
func NewConnected(symbols []string, mode domain.Mode) Connected {
	return Connected{Type: TypeConnected, Symbols: symbols, Mode: string(mode)}
}

// Error is a non-fatal error surfaced to a subscriber.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (Error) MessageType() string { return TypeError }

// NewError builds an error message.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// Decode parses one wire message by its type tag.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	var msg Message
	var err error
	switch envelope.Type {
	case TypeBubble:
		msg, err = decodeAs[Bubble](data)
	case TypeCVDPoint:
		msg, err = decodeAs[CVDPoint](data)
	case TypeVolumeProfile:
		msg, err = decodeAs[VolumeProfile](data)
	case TypeAbsorption:
		msg, err = decodeAs[Absorption](data)
	case TypeAbsorptionZones:
		msg, err = decodeAs[AbsorptionZones](data)
	case TypeDeltaFlip:
		msg, err = decodeAs[DeltaFlip](data)
	case TypeStackedImbalance:
		msg, err = decodeAs[StackedImbalance](data)
	case TypeConfluence:
		msg, err = decodeAs[Confluence](data)
	case TypeSessionStats:
		msg, err = decodeAs[SessionStats](data)
	case TypeReplayStatus:
		msg, err = decodeAs[ReplayStatus](data)
	case TypeConnected:
		msg, err = decodeAs[Connected](data)
	case TypeError:
		msg, err = decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("unknown message type %q", envelope.Type)
	}
	return msg, err
}

func decodeAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.MessageType(), err)
	}
	return v, nil
}

// ClientCommand is an inbound control message from a subscriber.
type ClientCommand struct {
	Action  string   `json:"action"`
	Speed   *float64 `json:"speed,omitempty"`
	MinSize *uint32  `json:"min_size,omitempty"`
}

// Client command actions.
const (
	ActionReplayPause    = "replay_pause"
	ActionReplayResume   = "replay_resume"
	ActionSetReplaySpeed = "set_replay_speed"
	ActionSetMinSize     = "set_min_size"
)
