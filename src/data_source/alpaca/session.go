package alpaca

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"market-streamer/src/helpers"
	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// -----------------------------------------------------------------------------

// Session is one authenticated vendor websocket for one asset class.
type Session struct {
	id         string
	assetClass models.AssetClass
	conn       *websocket.Conn
	codec      codec
	logger     *logger.Logger
	pingPeriod time.Duration

	writeMu sync.Mutex // conn writes
	subMu   sync.Mutex // subscribe/unsubscribe round trips

	mu       sync.RWMutex
	subs     map[models.EventKind]utils.SymbolSet
	handlers map[models.EventKind]models.Handler

	running  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(conn *websocket.Conn, c codec, assetClass models.AssetClass, pingPeriod time.Duration, log *logger.Logger) *Session {
	s := &Session{
		id:         uuid.NewString(),
		assetClass: assetClass,
		conn:       conn,
		codec:      c,
		logger:     log,
		pingPeriod: pingPeriod,
		subs:       make(map[models.EventKind]utils.SymbolSet),
		handlers:   make(map[models.EventKind]models.Handler),
		done:       make(chan struct{}),
	}
	for _, kind := range models.AllEventKinds {
		s.subs[kind] = utils.NewSymbolSet()
	}
	return s
}

// -----------------------------------------------------------------------------

func (s *Session) ID() string { return s.id }

func (s *Session) AssetClass() models.AssetClass { return s.assetClass }

// -----------------------------------------------------------------------------

// Subscribe sends a subscribe request for the symbols not yet subscribed.
func (s *Session) Subscribe(kind models.EventKind, handler models.Handler, symbols ...string) error {
	if s.stopping.Load() {
		return helpers.NewStreamError("subscribe on stopped session", helpers.ErrSessionStopped)
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	if handler != nil {
		s.handlers[kind] = handler
	}
	current, ok := s.subs[kind]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown event kind '%s'", kind)
	}

	added := utils.NewSymbolSet(symbols...).Minus(current)
	if added.Len() == 0 {
		return nil
	}

	if err := s.send(subscriptionRequest("subscribe", kind, added.Sorted())); err != nil {
		return helpers.NewStreamError(fmt.Sprintf("subscribe %s", kind), err)
	}

	s.mu.Lock()
	s.subs[kind].Add(added.Sorted()...)
	s.mu.Unlock()

	s.logger.Debug("%s : subscribed %s %v", s.assetClass, kind, added.Sorted())
	return nil
}

// Unsubscribe sends an unsubscribe request for the symbols currently subscribed.
func (s *Session) Unsubscribe(kind models.EventKind, symbols ...string) error {
	if s.stopping.Load() {
		return helpers.NewStreamError("unsubscribe on stopped session", helpers.ErrSessionStopped)
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.RLock()
	current, ok := s.subs[kind]
	removed := utils.NewSymbolSet()
	for _, sym := range symbols {
		if current.Contains(sym) {
			removed.Add(sym)
		}
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown event kind '%s'", kind)
	}
	if removed.Len() == 0 {
		return nil
	}

	if err := s.send(subscriptionRequest("unsubscribe", kind, removed.Sorted())); err != nil {
		return helpers.NewStreamError(fmt.Sprintf("unsubscribe %s", kind), err)
	}

	s.mu.Lock()
	s.subs[kind].Remove(removed.Sorted()...)
	s.mu.Unlock()

	s.logger.Debug("%s : unsubscribed %s %v", s.assetClass, kind, removed.Sorted())
	return nil
}

// Subscriptions returns a copy of the subscription state of kind.
func (s *Session) Subscriptions(kind models.EventKind) utils.SymbolSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set, ok := s.subs[kind]; ok {
		return set.Clone()
	}
	return utils.NewSymbolSet()
}

func subscriptionRequest(action string, kind models.EventKind, symbols []string) subscribeRequest {
	req := subscribeRequest{Action: action}
	switch kind {
	case models.EventKindBar:
		req.Bars = symbols
	case models.EventKindUpdatedBar:
		req.UpdatedBars = symbols
	case models.EventKindTrade:
		req.Trades = symbols
	}
	return req
}

// -----------------------------------------------------------------------------

// Run reads frames and dispatches observations until Stop or a dropped connection.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("session %s is already running", s.id)
	}
	if s.stopping.Load() {
		return nil
	}

	pongWait := s.pingPeriod * 10 / 9
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.pingLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	s.logger.Info("%s : session %s running", s.assetClass, s.id)

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopping.Load() {
				s.logger.Info("%s : session %s stopped", s.assetClass, s.id)
				return nil
			}
			return helpers.NewStreamError("read failed", err)
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := s.handleFrame(frame); err != nil {
			if s.stopping.Load() {
				return nil
			}
			return err
		}
	}
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Warning("%s : ping failed: %v", s.assetClass, err)
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

// handleFrame dispatches every element of one frame. Only a mid-stream
// connection-limit error is returned; everything else is logged.
func (s *Session) handleFrame(frame []byte) error {
	elements, err := s.codec.Split(frame)
	if err != nil {
		s.logger.Warning("%s : dropping undecodable frame: %v", s.assetClass, err)
		return nil
	}

	received := time.Now().UTC()
	for _, el := range elements {
		kind, err := s.codec.Kind(el)
		if err != nil {
			s.logger.Warning("%s : dropping undecodable message: %v", s.assetClass, err)
			continue
		}

		switch kind {
		case msgBar, msgUpdatedBar:
			var b wireBar
			if err := s.codec.Unmarshal(el, &b); err != nil {
				s.logger.Warning("%s : bad bar: %v", s.assetClass, err)
				continue
			}
			eventKind := models.EventKindBar
			if kind == msgUpdatedBar {
				eventKind = models.EventKindUpdatedBar
			}
			s.dispatch(barObservation(eventKind, s.assetClass, b, received))

		case msgTrade:
			var t wireTrade
			if err := s.codec.Unmarshal(el, &t); err != nil {
				s.logger.Warning("%s : bad trade: %v", s.assetClass, err)
				continue
			}
			s.dispatch(tradeObservation(s.assetClass, t, received))

		case msgSubscription:
			var sub wireSubscription
			if err := s.codec.Unmarshal(el, &sub); err == nil {
				s.logger.Debug("%s : vendor subscriptions bars=%d updatedBars=%d trades=%d",
					s.assetClass, len(sub.Bars), len(sub.UpdatedBars), len(sub.Trades))
			}

		case msgError:
			var ctl wireControl
			if err := s.codec.Unmarshal(el, &ctl); err != nil {
				continue
			}
			if ctl.Code == codeConnectionLimit {
				return helpers.NewStreamError(ctl.Msg, helpers.ErrConnectionLimitExceeded)
			}
			s.logger.Error("%s : vendor error %d: %s", s.assetClass, ctl.Code, ctl.Msg)

		case msgSuccess, msgDailyBar:
			// ignored

		default:
			s.logger.Debug("%s : ignoring message type '%s'", s.assetClass, kind)
		}
	}
	return nil
}

// dispatch hands obs to the bound handler if its symbol is subscribed for the kind.
func (s *Session) dispatch(obs *models.MObservation) {
	s.mu.RLock()
	subscribed := s.subs[obs.Kind].Contains(obs.Symbol)
	handler := s.handlers[obs.Kind]
	s.mu.RUnlock()

	if !subscribed || handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("%s : handler panic on %s %s: %v", s.assetClass, obs.Kind, obs.Symbol, r)
		}
	}()
	handler(obs)
}

func barObservation(kind models.EventKind, ac models.AssetClass, b wireBar, received time.Time) *models.MObservation {
	return &models.MObservation{
		Kind:       kind,
		AssetClass: ac,
		Symbol:     b.Symbol,
		Timestamp:  b.Timestamp.UTC(),
		Bar: &models.MBar{
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
			Interval:   1,
		},
		ReceivedAt: received,
	}
}

func tradeObservation(ac models.AssetClass, t wireTrade, received time.Time) *models.MObservation {
	return &models.MObservation{
		Kind:       models.EventKindTrade,
		AssetClass: ac,
		Symbol:     t.Symbol,
		Timestamp:  t.Timestamp.UTC(),
		Trade: &models.MTrade{
			ID:         t.ID,
			Exchange:   t.Exchange,
			Price:      t.Price,
			Size:       t.Size,
			Conditions: t.Conditions,
			Tape:       t.Tape,
		},
		ReceivedAt: received,
	}
}

// -----------------------------------------------------------------------------

// Stop sends a close frame and closes the connection. Safe to call repeatedly.
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		close(s.done)

		s.writeMu.Lock()
		closeErr := s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.writeMu.Unlock()
		if closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) {
			s.logger.Debug("%s : close frame: %v", s.assetClass, closeErr)
		}

		err = s.conn.Close()
	})
	return err
}

// -----------------------------------------------------------------------------

func (s *Session) send(v interface{}) error {
	data, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(s.codec.MessageType(), data)
}
