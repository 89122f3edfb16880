package core

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Payment-curve constants (spec §4.7), named after
// original_source/node/src/accountant/accountant.rs.
const (
	PaymentCurveMinimumTime       = 86_400
	PaymentCurveTimeIntersection  = 2_592_000
	PaymentCurveMinimumBalance    = 10_000_000
	PaymentCurveBalanceIntersection = 1_000_000_000
)

// PayableAccount tracks what this node owes a service provider; mirrors
// original_source's PayableAccount (balance + last_paid_timestamp), minus
// the pending-transaction-hash field since there is no settlement
// implementation in scope (spec Out-of-scope: "on-chain settlement
// bridge").
type PayableAccount struct {
	Wallet          Wallet
	Balance         uint64
	LastPaidAt      time.Time
}

// ReceivableAccount tracks what a peer owes this node for service provided.
type ReceivableAccount struct {
	Wallet  Wallet
	Balance uint64
}

// ReportAccountsPayable is emitted by the payable-scan timer when one or
// more accounts cross the payment curve (spec §4.7).
type ReportAccountsPayable struct {
	Accounts []PayableAccount
}

// SettlementBridge is the seam toward on-chain settlement; spec.md names
// this as out-of-scope ("on-chain settlement bridge"), so Accountant only
// holds the interface and never calls it from a concrete implementation.
// go-ethereum/common supplies the address and transaction-hash types (the
// amount is a plain uint64) so a real bridge can
// be slotted in without changing Accountant's signature.
type SettlementBridge interface {
	SendPayable(to common.Address, amount uint64) (txHash common.Hash, err error)
}

// Accountant implements spec §4.7: records receivables/payables from
// RoutingService's metering events, and periodically scans payables
// against the payment curve.
type Accountant struct {
	mu sync.Mutex

	receivable map[string]*ReceivableAccount
	payable    map[string]*PayableAccount

	bridge SettlementBridge // may be nil: no settlement wired by default
	log    *logrus.Entry

	routingBytesTotal   prometheus.Counter
	exitBytesTotal      prometheus.Counter
	packetsDroppedTotal *prometheus.CounterVec
	accountsPayableTotal prometheus.Gauge
}

// NewAccountant builds an Accountant registered against reg (spec §4.11
// metric names: hopper_routing_bytes_total, hopper_exit_bytes_total,
// hopper_packets_dropped_total{reason}, hopper_accounts_payable_total).
func NewAccountant(reg *prometheus.Registry, bridge SettlementBridge, log *logrus.Entry) *Accountant {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &Accountant{
		receivable: make(map[string]*ReceivableAccount),
		payable:    make(map[string]*PayableAccount),
		bridge:     bridge,
		log:        log.WithField("component", "Accountant"),

		routingBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopper_routing_bytes_total",
			Help: "Bytes routed externally on behalf of other nodes.",
		}),
		exitBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopper_exit_bytes_total",
			Help: "Bytes exited to the public internet on behalf of other nodes.",
		}),
		packetsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopper_packets_dropped_total",
			Help: "CORES packets dropped, by reason.",
		}, []string{"reason"}),
		accountsPayableTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hopper_accounts_payable_total",
			Help: "Number of payable accounts currently past the payment curve.",
		}),
	}
	if reg != nil {
		reg.MustRegister(a.routingBytesTotal, a.exitBytesTotal, a.packetsDroppedTotal, a.accountsPayableTotal)
	}
	return a
}

// ReportRoutingServiceProvided implements the Accountant seam RoutingService
// depends on (spec §4.7): charge = service_rate + byte_rate*payload_size,
// credited as a receivable against the consumer's wallet.
func (a *Accountant) ReportRoutingServiceProvided(ev RoutingServiceProvidedEvent) {
	charge := ev.ServiceRate + ev.ByteRate*uint64(ev.PayloadSize)
	a.creditReceivable(ev.ConsumingWallet, charge)
	a.routingBytesTotal.Add(float64(ev.PayloadSize))
}

// ReportExitServiceProvided mirrors ReportRoutingServiceProvided for exit
// traffic.
func (a *Accountant) ReportExitServiceProvided(ev ExitServiceProvidedEvent) {
	charge := ev.ServiceRate + ev.ByteRate*uint64(ev.PayloadSize)
	a.creditReceivable(ev.ConsumingWallet, charge)
	a.exitBytesTotal.Add(float64(ev.PayloadSize))
}

// ReportPacketDropped increments the drop counter for a given reason. The
// Dispatcher calls it next to each of its drop log lines; RoutingService
// only logs its drops (spec §7) and does not update this counter.
func (a *Accountant) ReportPacketDropped(reason string) {
	a.packetsDroppedTotal.WithLabelValues(reason).Inc()
}

func (a *Accountant) creditReceivable(wallet Wallet, amount uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.receivable[wallet.String()]
	if !ok {
		acct = &ReceivableAccount{Wallet: wallet}
		a.receivable[wallet.String()] = acct
	}
	acct.Balance += amount
}

// RecordServiceConsumed records a payable when this node consumes routing
// or exit service from a peer (the symmetric counterpart of
// ReportRoutingServiceProvided, spec §4.7 "when this node consumes routing/
// exit service, it records a payable").
func (a *Accountant) RecordServiceConsumed(wallet Wallet, serviceRate, byteRate uint64, payloadSize int, now time.Time) {
	charge := serviceRate + byteRate*uint64(payloadSize)
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.payable[wallet.String()]
	if !ok {
		acct = &PayableAccount{Wallet: wallet, LastPaidAt: now}
		a.payable[wallet.String()] = acct
	}
	acct.Balance += charge
}

// ScanForPayables implements the payable-scan timer (spec §4.7): an account
// qualifies when it is older than PaymentCurveMinimumTime, its balance
// exceeds PaymentCurveMinimumBalance, and its balance clears the line
// defined by the two curve intersections.
func (a *Accountant) ScanForPayables(now time.Time) ReportAccountsPayable {
	a.mu.Lock()
	defer a.mu.Unlock()

	var due []PayableAccount
	for _, acct := range a.payable {
		age := now.Sub(acct.LastPaidAt).Seconds()
		if shouldPay(age, acct.Balance) {
			due = append(due, *acct)
		}
	}
	a.accountsPayableTotal.Set(float64(len(due)))
	if len(due) > 0 {
		a.log.Debugf("Scanning for payables: %d account(s) due", len(due))
	}
	return ReportAccountsPayable{Accounts: due}
}

// shouldPay applies the payable curve (spec §4.7, original_source
// should_pay/calculate_payout_threshold): linear threshold between the
// (MinimumTime, BalanceIntersection) and (TimeIntersection, MinimumBalance)
// points, with the two minimum gates applied first.
func shouldPay(ageSeconds float64, balance uint64) bool {
	if ageSeconds <= PaymentCurveMinimumTime {
		return false
	}
	if balance <= PaymentCurveMinimumBalance {
		return false
	}
	threshold := payoutThreshold(ageSeconds)
	return float64(balance) > threshold
}

func payoutThreshold(ageSeconds float64) float64 {
	m := -(float64(PaymentCurveBalanceIntersection-PaymentCurveMinimumBalance) /
		float64(PaymentCurveTimeIntersection-PaymentCurveMinimumTime))
	b := float64(PaymentCurveBalanceIntersection) - m*float64(PaymentCurveMinimumTime)
	return m*ageSeconds + b
}
