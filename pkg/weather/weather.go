// Package weather reads current conditions and the hourly forecast for one
// location from the US National Weather Service API (api.weather.gov).
package weather

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	pointsPath      = "/points/{lat},{lon}"
	observationPath = "/stations/{station}/observations/latest"

	// forecastPeriods is how many upcoming hours are reported
	forecastPeriods = 4
)

// Conditions is the latest observation of the nearest station.
// Temperature is in degrees Celsius and nil when the station did not report one.
type Conditions struct {
	Temperature *float64 `json:"temperature"`
	Conditions  string   `json:"conditions"`
	Icon        string   `json:"icon"`
	StationName string   `json:"station_name"`
}

// Period is one hour of the forecast. Temperature is in the unit NWS
// forecasts in for the location, Fahrenheit in the US.
type Period struct {
	Time        string  `json:"time"`
	Temperature float64 `json:"temperature"`
	Conditions  string  `json:"conditions"`
	Icon        string  `json:"icon"`
}

// Report is the weather answer served to the dashboard. Error is set when
// either half could not be fetched.
type Report struct {
	Current  *Conditions `json:"current"`
	Forecast []Period    `json:"forecast"`
	Error    string      `json:"error,omitempty"`
}

// Source produces a weather report
type Source interface {
	Report(ctx context.Context) Report
}

type pointsResponse struct {
	Properties struct {
		ObservationStations string `json:"observationStations"`
		ForecastHourly      string `json:"forecastHourly"`
	} `json:"properties"`
}

type stationsResponse struct {
	Features []struct {
		Properties struct {
			StationIdentifier string `json:"stationIdentifier"`
			Name              string `json:"name"`
		} `json:"properties"`
	} `json:"features"`
}

type observationResponse struct {
	Properties *struct {
		Temperature struct {
			Value *float64 `json:"value"`
		} `json:"temperature"`
		TextDescription *string `json:"textDescription"`
		Icon            string  `json:"icon"`
	} `json:"properties"`
}

type forecastResponse struct {
	Properties struct {
		Periods []struct {
			StartTime     time.Time `json:"startTime"`
			EndTime       time.Time `json:"endTime"`
			Temperature   float64   `json:"temperature"`
			ShortForecast string    `json:"shortForecast"`
			Icon          string    `json:"icon"`
		} `json:"periods"`
	} `json:"properties"`
}

// Client queries NWS for one latitude/longitude. The points lookup, which
// maps the location to its station list and forecast grid, is fetched once.
type Client struct {
	http     *resty.Client
	lat, lon float64
	log      logrus.FieldLogger
	now      func() time.Time

	mu     sync.Mutex
	points *pointsResponse
}

// NewClient creates a client against baseURL (https://api.weather.gov in
// production). NWS rejects requests without a User-Agent.
func NewClient(baseURL string, lat, lon float64, userAgent string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/geo+json").
		SetHeader("User-Agent", userAgent)

	return &Client{
		http: rc,
		lat:  lat,
		lon:  lon,
		log:  logger.WithField("component", "weather"),
		now:  time.Now,
	}
}

// get fetches url into result. url may be a path under the base URL or an
// absolute link taken from an earlier response.
func (c *Client) get(ctx context.Context, url string, params map[string]string, result interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(params).
		SetResult(result).
		Get(url)
	if err != nil {
		return fmt.Errorf("weather request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("weather HTTP status %d for %s", resp.StatusCode(), resp.Request.URL)
	}
	return nil
}

func (c *Client) loadPoints(ctx context.Context) (*pointsResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.points != nil {
		return c.points, nil
	}

	var p pointsResponse
	err := c.get(ctx, pointsPath, map[string]string{
		"lat": fmt.Sprintf("%.4f", c.lat),
		"lon": fmt.Sprintf("%.4f", c.lon),
	}, &p)
	if err != nil {
		return nil, err
	}
	c.points = &p
	return c.points, nil
}

// Current returns the latest observation of the nearest station, or nil when
// no station or observation is available.
func (c *Client) Current(ctx context.Context) (*Conditions, error) {
	p, err := c.loadPoints(ctx)
	if err != nil {
		return nil, err
	}

	var stations stationsResponse
	if err := c.get(ctx, p.Properties.ObservationStations, nil, &stations); err != nil {
		return nil, err
	}
	if len(stations.Features) == 0 {
		return nil, nil
	}
	nearest := stations.Features[0].Properties

	var obs observationResponse
	if err := c.get(ctx, observationPath, map[string]string{"station": nearest.StationIdentifier}, &obs); err != nil {
		return nil, err
	}
	if obs.Properties == nil {
		return nil, nil
	}

	cond := &Conditions{
		Temperature: obs.Properties.Temperature.Value,
		Conditions:  "Unknown",
		Icon:        obs.Properties.Icon,
		StationName: nearest.Name,
	}
	if obs.Properties.TextDescription != nil {
		cond.Conditions = *obs.Properties.TextDescription
	}
	c.log.WithFields(logrus.Fields{
		"station":    nearest.StationIdentifier,
		"conditions": cond.Conditions,
	}).Debug("NWS observation")
	return cond, nil
}

// Forecast returns the next hourly periods that have not ended yet.
func (c *Client) Forecast(ctx context.Context) ([]Period, error) {
	p, err := c.loadPoints(ctx)
	if err != nil {
		return nil, err
	}

	var f forecastResponse
	if err := c.get(ctx, p.Properties.ForecastHourly, nil, &f); err != nil {
		return nil, err
	}

	now := c.now()
	out := make([]Period, 0, forecastPeriods)
	for _, period := range f.Properties.Periods {
		if period.EndTime.Before(now) {
			continue
		}
		out = append(out, Period{
			Time:        period.StartTime.Format("15:04"),
			Temperature: period.Temperature,
			Conditions:  period.ShortForecast,
			Icon:        period.Icon,
		})
		if len(out) >= forecastPeriods {
			break
		}
	}
	return out, nil
}

// Report fetches current conditions and the forecast concurrently. Failures
// are carried in Report.Error along with whichever half succeeded.
func (c *Client) Report(ctx context.Context) Report {
	// Both halves need the points; load them once up front
	if _, err := c.loadPoints(ctx); err != nil {
		c.log.WithError(err).Error("Failed to load NWS points")
		return Report{Forecast: []Period{}, Error: err.Error()}
	}

	var (
		wg         sync.WaitGroup
		rep        Report
		currentErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		rep.Current, currentErr = c.Current(ctx)
	}()
	forecast, forecastErr := c.Forecast(ctx)
	wg.Wait()

	rep.Forecast = forecast
	if rep.Forecast == nil {
		rep.Forecast = []Period{}
	}
	for _, err := range []error{currentErr, forecastErr} {
		if err != nil {
			c.log.WithError(err).Error("Failed to fetch weather")
			if rep.Error == "" {
				rep.Error = err.Error()
			}
		}
	}
	return rep
}
