// Package service is the typed front door to the dispatcher: one facade per
// remote ads service, each method naming a fixed worker operation.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mattjoyce/adworker/internal/dispatch"
	"github.com/mattjoyce/adworker/internal/protocol"
)

// Operation ids understood by the worker script.
const (
	OpCreateReport   = "ReportDefinitionService-createReporting"
	OpGetInfos       = "CustomerService-getInfos"
	OpGetAccountList = "ManagedCustomerService-getAccountList"
	OpGetCampaigns   = "CampaignService-getCampaignList"
)

// ErrUnknownOperation is returned by Lookup for an unmapped service/method.
var ErrUnknownOperation = errors.New("unknown operation")

// Submitter accepts tasks. *dispatch.Dispatcher satisfies it.
type Submitter interface {
	Submit(task protocol.Task) *dispatch.Future
}

// operations maps public service and method names to operation ids. The
// report facade is reachable under both its method name and the worker's.
var operations = map[string]map[string]string{
	"ReportDefinitionService": {
		"createReport":    OpCreateReport,
		"createReporting": OpCreateReport,
	},
	"CustomerService": {
		"getInfos": OpGetInfos,
	},
	"ManagedCustomerService": {
		"getAccountList": OpGetAccountList,
	},
	"CampaignService": {
		"getCampaignList": OpGetCampaigns,
	},
}

// Lookup resolves a service/method pair to its operation id.
func Lookup(service, method string) (string, error) {
	if op, ok := operations[service][method]; ok {
		return op, nil
	}
	return "", fmt.Errorf("%w: %s.%s", ErrUnknownOperation, service, method)
}

// Operations lists every known operation id, sorted.
func Operations() []string {
	seen := map[string]bool{}
	var ops []string
	for _, methods := range operations {
		for _, op := range methods {
			if !seen[op] {
				seen[op] = true
				ops = append(ops, op)
			}
		}
	}
	sort.Strings(ops)
	return ops
}

// Client groups the facades over one Submitter.
type Client struct {
	sub Submitter

	Reports          *ReportService
	Customers        *CustomerService
	ManagedCustomers *ManagedCustomerService
	Campaigns        *CampaignService
}

func New(sub Submitter) *Client {
	c := &Client{sub: sub}
	c.Reports = &ReportService{c: c}
	c.Customers = &CustomerService{c: c}
	c.ManagedCustomers = &ManagedCustomerService{c: c}
	c.Campaigns = &CampaignService{c: c}
	return c
}

// Call submits a raw parameter bundle for operation unchanged. A
// "numberResults" entry in params acts as the result bound.
func (c *Client) Call(operation string, params map[string]any) *dispatch.Future {
	return c.sub.Submit(protocol.NewTask(operation, params, nil))
}

func (c *Client) submit(operation string, opts Options) (*dispatch.Future, error) {
	params, err := opts.params()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return c.sub.Submit(protocol.NewTask(operation, params, opts.NumberResults)), nil
}

type ReportService struct{ c *Client }

// CreateReport runs a report definition for opts.ClientCustomerID.
func (s *ReportService) CreateReport(opts Options) (*dispatch.Future, error) {
	return s.c.submit(OpCreateReport, opts)
}

type CustomerService struct{ c *Client }

// GetInfos fetches the account details behind the credentials.
func (s *CustomerService) GetInfos(opts Options) (*dispatch.Future, error) {
	return s.c.submit(OpGetInfos, opts)
}

type ManagedCustomerService struct{ c *Client }

// GetAccountList lists the accounts managed by a manager account.
func (s *ManagedCustomerService) GetAccountList(opts Options) (*dispatch.Future, error) {
	return s.c.submit(OpGetAccountList, opts)
}

type CampaignService struct{ c *Client }

func (s *CampaignService) GetCampaignList(opts Options) (*dispatch.Future, error) {
	return s.c.submit(OpGetCampaigns, opts)
}

// params flattens opts into the map the worker receives. Extra entries are
// written first so the typed fields win on collision.
func (o Options) params() (map[string]any, error) {
	out := make(map[string]any, len(o.Extra)+4)
	for k, v := range o.Extra {
		out[k] = v
	}

	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	var typed map[string]any
	if err := json.Unmarshal(b, &typed); err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	for k, v := range typed {
		out[k] = v
	}
	return out, nil
}
