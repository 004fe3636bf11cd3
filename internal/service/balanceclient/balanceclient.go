package balanceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/encargos/internal/model"
)

// JSON ответ отчета по балансу
type BalanceAnswer struct {
	Client  string          `json:"client"`
	Surplus decimal.Decimal `json:"surplus_balance"`
	Total   decimal.Decimal `json:"total_balance"`
}

type BalanceClient interface {
	Get(ctx context.Context, client string) (model.ClientBalance, error)
}

type balanceClient struct {
	serviceAddr string
	resty       *resty.Client
}

func NewBalanceClient(serviceAddr string) BalanceClient {
	return balanceClient{
		serviceAddr: serviceAddr,
		resty:       resty.New().SetTimeout(5 * time.Second),
	}
}

func (client balanceClient) Get(ctx context.Context, clientCode string) (model.ClientBalance, error) {
	path := "/api/clients/" + clientCode + "/balance"

	setreq := client.resty.R().SetContext(ctx)
	setreq.Method = http.MethodGet
	setreq.URL = client.serviceAddr + path
	setresp, err := setreq.Send()
	if err != nil {
		return model.ClientBalance{}, err
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
		var answer BalanceAnswer
		if err = json.Unmarshal(setresp.Body(), &answer); err != nil {
			return model.ClientBalance{}, err
		}
		return model.ClientBalance{
			Client:  clientCode,
			Surplus: answer.Surplus,
			Total:   answer.Total,
		}, nil
	case http.StatusNoContent, http.StatusNotFound:
		// клиента в отчете нет - баланс нулевой
		return model.ClientBalance{Client: clientCode}, nil
	default:
		return model.ClientBalance{}, fmt.Errorf("balance request status: %d", setresp.StatusCode())
	}
}
