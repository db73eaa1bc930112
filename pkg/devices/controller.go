package devices

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// controllerSubprotocol is the websocket subprotocol the controller speaks
const controllerSubprotocol = "b_xmlproc"

// statusAttributes are requested from every unit on each poll
var statusAttributes = []string{
	"Drive", "Mode", "VentMode", "ModeStatus", "SetTemp", "SetHumidity",
	"InletTemp", "InletHumidity", "AirDirection", "FanSpeed", "RemoCon",
	"FilterSign", "Hold", "Ventilation", "VentiDrive", "VentiFan",
	"Schedule", "ErrorSign", "CheckWater", "RoomHumidity", "Occupancy",
	"OutdoorTemp", "Vent24h", "Vent24hMode",
}

// packet is the controller's XML envelope
type packet struct {
	XMLName         xml.Name        `xml:"Packet"`
	Command         string          `xml:"Command"`
	DatabaseManager databaseManager `xml:"DatabaseManager"`
}

type databaseManager struct {
	ControlGroup *controlGroup `xml:"ControlGroup,omitempty"`
	Mnet         []mnet        `xml:"Mnet"`
}

type controlGroup struct {
	MnetList mnetList `xml:"MnetList"`
}

type mnetList struct {
	Records []mnetRecord `xml:"MnetRecord"`
}

type mnetRecord struct {
	Group string `xml:"Group,attr"`
	Name  string `xml:"GroupNameWeb,attr"`
}

// mnet is one unit; every attribute, including Group, rides in Attrs
type mnet struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

func newMnet(unitID int64, attrs map[string]string) mnet {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := mnet{Attrs: []xml.Attr{{Name: xml.Name{Local: "Group"}, Value: strconv.FormatInt(unitID, 10)}}}
	for _, k := range keys {
		m.Attrs = append(m.Attrs, xml.Attr{Name: xml.Name{Local: k}, Value: attrs[k]})
	}
	return m
}

// ControllerClient speaks the controller's XML-over-websocket protocol.
// Every call uses its own connection, as the controller expects.
type ControllerClient struct {
	url    string
	origin string
	dialer websocket.Dialer
	log    logrus.FieldLogger
}

var _ Client = (*ControllerClient)(nil)

// NewControllerClient creates a client for a ws:// URL such as ws://10.0.0.5/b_xmlproc/.
func NewControllerClient(rawURL string, timeout time.Duration, logger logrus.FieldLogger) (*ControllerClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("controller url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("controller url %q: scheme must be ws or wss", rawURL)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	origin := "http://" + u.Host
	if u.Scheme == "wss" {
		origin = "https://" + u.Host
	}
	return &ControllerClient{
		url:    rawURL,
		origin: origin,
		dialer: websocket.Dialer{
			Subprotocols:      []string{controllerSubprotocol},
			EnableCompression: true,
			HandshakeTimeout:  timeout,
		},
		log: logger.WithField("component", "controller"),
	}, nil
}

// roundTrip sends one packet and, when wantReply is set, decodes the reply.
func (c *ControllerClient) roundTrip(ctx context.Context, req packet, wantReply bool) (*packet, error) {
	body, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Command, err)
	}

	header := http.Header{}
	header.Set("Origin", c.origin)
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial controller: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}

	payload := append([]byte(xml.Header), body...)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}
	if !wantReply {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return nil, nil
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", req.Command, err)
	}
	var reply packet
	if err := xml.Unmarshal(msg, &reply); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", req.Command, err)
	}
	return &reply, nil
}

// ListDevices returns every unit the controller manages
func (c *ControllerClient) ListDevices(ctx context.Context) ([]Unit, error) {
	reply, err := c.roundTrip(ctx, packet{
		Command:         "getRequest",
		DatabaseManager: databaseManager{ControlGroup: &controlGroup{}},
	}, true)
	if err != nil {
		return nil, err
	}
	if reply.DatabaseManager.ControlGroup == nil {
		return nil, nil
	}

	var units []Unit
	for _, r := range reply.DatabaseManager.ControlGroup.MnetList.Records {
		id, err := strconv.ParseInt(r.Group, 10, 64)
		if err != nil {
			c.log.WithField("group", r.Group).Warn("Skipping unit with non-numeric group")
			continue
		}
		units = append(units, Unit{ID: id, Name: r.Name})
	}
	return units, nil
}

// GetDeviceInfo returns the unit's non-empty status attributes
func (c *ControllerClient) GetDeviceInfo(ctx context.Context, unitID int64) (map[string]string, error) {
	want := make(map[string]string, len(statusAttributes))
	for _, a := range statusAttributes {
		want[a] = "*"
	}
	reply, err := c.roundTrip(ctx, packet{
		Command:         "getRequest",
		DatabaseManager: databaseManager{Mnet: []mnet{newMnet(unitID, want)}},
	}, true)
	if err != nil {
		return nil, err
	}
	if len(reply.DatabaseManager.Mnet) == 0 {
		return nil, fmt.Errorf("unit %d: %w", unitID, ErrUnitNotFound)
	}

	info := make(map[string]string)
	for _, a := range reply.DatabaseManager.Mnet[0].Attrs {
		if a.Name.Local == "Group" || a.Value == "" {
			continue
		}
		info[a.Name.Local] = a.Value
	}
	return info, nil
}

// SetAttributes writes attributes to the unit. The controller sends no reply.
func (c *ControllerClient) SetAttributes(ctx context.Context, unitID int64, attrs map[string]string) error {
	c.log.WithFields(logrus.Fields{"unit": unitID, "attrs": attrs}).Info("Setting unit attributes")
	_, err := c.roundTrip(ctx, packet{
		Command:         "setRequest",
		DatabaseManager: databaseManager{Mnet: []mnet{newMnet(unitID, attrs)}},
	}, false)
	return err
}
