package proxy

import (
	"strings"

	"github.com/nao1215/fleetgate/internal/config"
)

// Route は1つのバックエンドサービスへの転送設定。起動時に一度だけ解決する。
type Route struct {
	// Name はリソース名（"orders" など）。
	Name string
	// PathPrefix はgateway側のパス接頭辞（"/proxy/orders"）。
	PathPrefix string
	// InternalAddress はプライベートネットワーク内のアドレス。
	InternalAddress string
	// ExternalAddress は公開アドレス。
	ExternalAddress string
}

// NewRoute は名前とアドレスからRouteを生成する。
func NewRoute(name, internalAddress, externalAddress string) Route {
	return Route{
		Name:            name,
		PathPrefix:      "/proxy/" + name,
		InternalAddress: strings.TrimRight(internalAddress, "/"),
		ExternalAddress: strings.TrimRight(externalAddress, "/"),
	}
}

// Configured はアドレスが1つ以上設定されているかどうかを返す。
func (r Route) Configured() bool {
	return r.InternalAddress != "" || r.ExternalAddress != ""
}

// targets は転送先を試行順に返す。
//
// プライベートネットワーク内では内部アドレス、次に公開アドレス（フォールバック先）。
// それ以外では公開アドレスのみ。公開アドレスが未設定の場合に限り内部アドレスを使う。
func (r Route) targets(privateNetwork bool) []string {
	if privateNetwork && r.InternalAddress != "" {
		if r.ExternalAddress != "" && r.ExternalAddress != r.InternalAddress {
			return []string{r.InternalAddress, r.ExternalAddress}
		}
		return []string{r.InternalAddress}
	}
	if r.ExternalAddress != "" {
		return []string{r.ExternalAddress}
	}
	if r.InternalAddress != "" {
		return []string{r.InternalAddress}
	}
	return nil
}

// RoutesFromConfig は設定からアドレスが設定されたバックエンドのRouteを生成する。
func RoutesFromConfig(b config.Backends) []Route {
	candidates := []Route{
		NewRoute("auth", b.Auth.InternalURL, b.Auth.ExternalURL),
		NewRoute("orders", b.Orders.InternalURL, b.Orders.ExternalURL),
		NewRoute("products", b.Products.InternalURL, b.Products.ExternalURL),
		NewRoute("customers", b.Customers.InternalURL, b.Customers.ExternalURL),
		NewRoute("vehicles", b.Vehicles.InternalURL, b.Vehicles.ExternalURL),
		NewRoute("delivery", b.Delivery.InternalURL, b.Delivery.ExternalURL),
	}
	routes := make([]Route, 0, len(candidates))
	for _, r := range candidates {
		if r.Configured() {
			routes = append(routes, r)
		}
	}
	return routes
}
