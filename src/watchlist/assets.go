package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"market-streamer/src/helpers"
	"market-streamer/src/interfaces"
	"market-streamer/src/models"
	"market-streamer/src/network"
	"market-streamer/src/utils"
)

const DefaultAssetsBaseURL = "https://paper-api.alpaca.markets"

// asset is the subset of the vendor asset record we read.
type asset struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Class    string `json:"class"`
	Status   string `json:"status"`
	Tradable bool   `json:"tradable"`
}

type vendorMessage struct {
	Message string `json:"message"`
}

// -----------------------------------------------------------------------------

// AssetsSource lists every active, tradable vendor asset of a class.
type AssetsSource struct {
	Network     interfaces.INetworkManager
	BaseURL     string
	VendorClass string
	Credentials models.MCredentials
}

func NewAssetsSource(nm interfaces.INetworkManager, cfg models.MWatchListConfig, assetClass models.AssetClass, creds models.MCredentials) *AssetsSource {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultAssetsBaseURL
	}

	vendorClass := cfg.AssetClass
	if vendorClass == "" {
		switch assetClass {
		case models.AssetClassEquity:
			vendorClass = "us_equity"
		default:
			vendorClass = string(assetClass)
		}
	}

	return &AssetsSource{
		Network:     nm,
		BaseURL:     base,
		VendorClass: vendorClass,
		Credentials: creds,
	}
}

func (s *AssetsSource) Name() string { return "alpaca_assets:" + s.VendorClass }

func (s *AssetsSource) ListSymbols(ctx context.Context, assetClass models.AssetClass) (utils.SymbolSet, error) {
	params := map[string]string{
		"asset_class": s.VendorClass,
		"status":      "active",
	}
	headers := map[string]string{
		"Apca-Api-Key-Id":     s.Credentials.APIKey,
		"Apca-Api-Secret-Key": s.Credentials.APISecret,
	}

	body, err := s.Network.Get(ctx, s.BaseURL+"/v2/assets", params, headers)
	if err != nil {
		var se *network.StatusError
		if errors.As(err, &se) {
			if msg := parseVendorMessage(se.Body); msg != "" {
				return nil, helpers.NewSourceUnavailable("asset listing rejected: "+msg, err)
			}
		}
		return nil, helpers.NewSourceUnavailable("asset listing failed", err)
	}

	if msg := parseVendorMessage(body); msg != "" {
		return nil, helpers.NewSourceUnavailable("asset listing rejected: "+msg, nil)
	}

	var assets []asset
	if err := json.Unmarshal(body, &assets); err != nil {
		return nil, helpers.NewSourceUnavailable("asset listing is not a JSON array", err)
	}

	set := utils.NewSymbolSet()
	for _, a := range assets {
		if !a.Tradable || (a.Status != "" && a.Status != "active") {
			continue
		}
		set.Add(a.Symbol)
	}
	return set, nil
}

// parseVendorMessage returns the "message" of an object body, or "".
func parseVendorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return ""
	}
	var m vendorMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	return m.Message
}

// -----------------------------------------------------------------------------

// NewSource builds the watch-list source configured for one asset class.
func NewSource(ac *models.MAssetClassConfig, db interfaces.IDatabase, nm interfaces.INetworkManager, creds models.MCredentials) (interfaces.IWatchListSource, error) {
	switch ac.WatchList.Type {
	case "", "static":
		return NewStaticSource(ac.WatchList.Symbols), nil
	case "sql":
		return NewSQLSource(db, ac.WatchList)
	case "alpaca_assets":
		if nm == nil {
			return nil, fmt.Errorf("alpaca_assets watch list needs a network manager")
		}
		return NewAssetsSource(nm, ac.WatchList, models.AssetClass(ac.Name), creds), nil
	default:
		return nil, fmt.Errorf("unsupported watch list type '%s'", ac.WatchList.Type)
	}
}
