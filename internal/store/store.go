package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/encargos/internal/model"
	"github.com/iurnickita/encargos/internal/store/config"
)

type Store interface {
	AuthRegister(ctx context.Context, login string, passwordHash string) (string, error)
	AuthLogin(ctx context.Context, login string) (string, string, error)
	BalanceGetActual(ctx context.Context, client string) (model.Balance, error)
	BalanceGetHistory(ctx context.Context, client string) ([]model.Balance, error)
	BalanceOutstanding(ctx context.Context, client string) (decimal.Decimal, error)
	OrderPost(ctx context.Context, order model.Order) (model.Order, error)
	OrderGet(ctx context.Context, number string) (model.Order, error)
	OrderList(ctx context.Context, client string) ([]model.Order, error)
	OrderSettle(ctx context.Context, upd SettleUpdate) error
	OrderApply(ctx context.Context, number string, fn func(order *model.Order) error) (model.Order, error)
	ProductGet(ctx context.Context, id int64) (model.Product, error)
}

// SettleUpdate - запись результата расчета.
// Заказ обновляется, только если received и pay_status не изменились с момента чтения.
type SettleUpdate struct {
	Payment           model.Payment
	Client            string
	ExpectedReceived  decimal.Decimal
	ExpectedPayStatus model.PayStatus
	Received          decimal.Decimal
	PayStatus         model.PayStatus
	BalanceDelta      decimal.Decimal
}

var (
	ErrNoRows           = errors.New("no rows")
	ErrAlreadyExists    = errors.New("already exists")
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrStale            = errors.New("order was changed since it was read")
)

const pgUniqueViolation = "23505"

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	if err = migrate(db); err != nil {
		return nil, err
	}
	return newStore(db), nil
}

func newStore(db *sql.DB) *store {
	return &store{database: db}
}

func migrate(db *sql.DB) error {
	stmts := []string{
		// Учетные записи администраторов
		"CREATE TABLE IF NOT EXISTS auth (" +
			" login VARCHAR (64) PRIMARY KEY," +
			" uuid SERIAL UNIQUE," +
			" password VARCHAR (72) NOT NULL" +
			" );",
		// Заказы. Не удаляются, отмена - статусом
		"CREATE TABLE IF NOT EXISTS client_order (" +
			" number VARCHAR (32) PRIMARY KEY," +
			" client VARCHAR (32) NOT NULL," +
			" total_cost NUMERIC (20, 2) NOT NULL CHECK (total_cost >= 0)," +
			" received NUMERIC (20, 2) NOT NULL DEFAULT 0 CHECK (received >= 0)," +
			" pay_status VARCHAR (12) NOT NULL," +
			" status VARCHAR (12) NOT NULL," +
			" created_at TIMESTAMP NOT NULL," +
			" paid_at TIMESTAMP" +
			" );",
		// Товары заказа, инвариант количеств проверяет и база
		"CREATE TABLE IF NOT EXISTS product (" +
			" id BIGSERIAL PRIMARY KEY," +
			" order_number VARCHAR (32) NOT NULL REFERENCES client_order (number)," +
			" name VARCHAR (255) NOT NULL," +
			" requested INTEGER NOT NULL CHECK (requested >= 0)," +
			" purchased INTEGER NOT NULL DEFAULT 0," +
			" received INTEGER NOT NULL DEFAULT 0," +
			" delivered INTEGER NOT NULL DEFAULT 0," +
			" status VARCHAR (12) NOT NULL," +
			" CHECK (0 <= delivered AND delivered <= received AND received <= purchased AND purchased <= requested)" +
			" );",
		// Платежи. Ключ отправки защищает от двойного применения
		"CREATE TABLE IF NOT EXISTS payment (" +
			" key VARCHAR (64) PRIMARY KEY," +
			" order_number VARCHAR (32) NOT NULL REFERENCES client_order (number)," +
			" cash NUMERIC (20, 2) NOT NULL," +
			" credit NUMERIC (20, 2) NOT NULL," +
			" covered NUMERIC (20, 2) NOT NULL," +
			" pending NUMERIC (20, 2) NOT NULL," +
			" overpaid NUMERIC (20, 2) NOT NULL," +
			" paid_at TIMESTAMP NOT NULL" +
			" );",
		// Баланс клиента - журнал, на каждую операцию новая запись
		"CREATE TABLE IF NOT EXISTS balance (" +
			" client VARCHAR (32)," +
			" operation BIGSERIAL," +
			" timestamp TIMESTAMP NOT NULL," +
			" difference NUMERIC (20, 2) NOT NULL," +
			" balance NUMERIC (20, 2) NOT NULL," +
			" order_number VARCHAR (32) NOT NULL," +
			" PRIMARY KEY (client, operation)" +
			" );",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (store *store) AuthRegister(ctx context.Context, login string, passwordHash string) (string, error) {
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO auth (login, password)"+
			" VALUES ($1, $2)"+
			" RETURNING uuid",
		login,
		passwordHash)

	var uuid int
	err := row.Scan(&uuid)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrAlreadyExists
		}
		return "", err
	}

	return strconv.Itoa(uuid), nil
}

func (store *store) AuthLogin(ctx context.Context, login string) (string, string, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT uuid, password FROM auth"+
			" WHERE login = $1",
		login)
	var (
		uuid int
		hash string
	)
	err := row.Scan(&uuid, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrNoRows
		}
		return "", "", err
	}

	return strconv.Itoa(uuid), hash, nil
}

// querier - *sql.DB или *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const balanceColumns = "client, operation, timestamp, difference, balance, order_number"

func scanBalance(row interface{ Scan(dest ...any) error }) (model.Balance, error) {
	var b model.Balance
	err := row.Scan(&b.Key.Client,
		&b.Key.Operation,
		&b.Data.Timestamp,
		&b.Data.Difference,
		&b.Data.Balance,
		&b.Data.Order)
	return b, err
}

func balanceActual(ctx context.Context, q querier, client string) (model.Balance, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+balanceColumns+
			" FROM balance"+
			" WHERE client = $1"+
			" ORDER BY operation DESC"+
			" LIMIT 1",
		client)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { // если нет строки - ок, баланс нулевой
			return model.Balance{Key: model.BalanceKey{Client: client}}, nil
		}
		return model.Balance{}, err
	}
	return b, nil
}

func (store *store) BalanceGetActual(ctx context.Context, client string) (model.Balance, error) {
	return balanceActual(ctx, store.database, client)
}

func (store *store) BalanceGetHistory(ctx context.Context, client string) ([]model.Balance, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+balanceColumns+
			" FROM balance"+
			" WHERE client = $1"+
			" ORDER BY operation",
		client)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []model.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, b)
	}
	return history, rows.Err()
}

func (store *store) BalanceOutstanding(ctx context.Context, client string) (decimal.Decimal, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(GREATEST(total_cost - received, 0)), 0)"+
			" FROM client_order"+
			" WHERE client = $1"+
			"   AND pay_status <> $2",
		client,
		model.PayStatusCancelado)
	var outstanding decimal.Decimal
	if err := row.Scan(&outstanding); err != nil {
		return decimal.Zero, err
	}
	return outstanding, nil
}

func (store *store) OrderPost(ctx context.Context, order model.Order) (model.Order, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO client_order (number, client, total_cost, received, pay_status, status, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7)",
		order.Number,
		order.Data.Client,
		order.Data.TotalCost,
		order.Data.Received,
		order.Data.PayStatus,
		order.Data.Status,
		order.Data.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Проверка: тот же клиент - повторный запрос
			tx.Rollback()
			var client string
			row := store.database.QueryRowContext(ctx,
				"SELECT client FROM client_order"+
					" WHERE number = $1",
				order.Number)
			if err = row.Scan(&client); err == nil && client != order.Data.Client {
				return model.Order{}, ErrAlreadyExists
			}
			return model.Order{}, ErrDuplicateRequest
		}
		return model.Order{}, err
	}

	for i := range order.Data.Products {
		p := &order.Data.Products[i]
		p.Data.Order = order.Number
		row := tx.QueryRowContext(ctx,
			"INSERT INTO product (order_number, name, requested, purchased, received, delivered, status)"+
				" VALUES ($1, $2, $3, $4, $5, $6, $7)"+
				" RETURNING id",
			p.Data.Order,
			p.Data.Name,
			p.Data.Requested,
			p.Data.Purchased,
			p.Data.Received,
			p.Data.Delivered,
			p.Data.Status)
		if err = row.Scan(&p.ID); err != nil {
			return model.Order{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return model.Order{}, err
	}
	return order, nil
}

const orderColumns = "number, client, total_cost, received, pay_status, status, created_at, paid_at"

func scanOrder(row interface{ Scan(dest ...any) error }) (model.Order, error) {
	var (
		o      model.Order
		paidAt sql.NullTime
	)
	err := row.Scan(&o.Number,
		&o.Data.Client,
		&o.Data.TotalCost,
		&o.Data.Received,
		&o.Data.PayStatus,
		&o.Data.Status,
		&o.Data.CreatedAt,
		&paidAt)
	if paidAt.Valid {
		o.Data.PaidAt = paidAt.Time
	}
	return o, err
}

const productColumns = "id, order_number, name, requested, purchased, received, delivered, status"

func scanProduct(row interface{ Scan(dest ...any) error }) (model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID,
		&p.Data.Order,
		&p.Data.Name,
		&p.Data.Requested,
		&p.Data.Purchased,
		&p.Data.Received,
		&p.Data.Delivered,
		&p.Data.Status)
	return p, err
}

func loadProducts(ctx context.Context, q querier, number string, lock bool) ([]model.Product, error) {
	query := "SELECT " + productColumns +
		" FROM product" +
		" WHERE order_number = $1" +
		" ORDER BY id"
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.QueryContext(ctx, query, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func loadOrder(ctx context.Context, q querier, number string, lock bool) (model.Order, error) {
	query := "SELECT " + orderColumns +
		" FROM client_order" +
		" WHERE number = $1"
	if lock {
		query += " FOR UPDATE"
	}
	order, err := scanOrder(q.QueryRowContext(ctx, query, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	order.Data.Products, err = loadProducts(ctx, q, number, lock)
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (store *store) OrderGet(ctx context.Context, number string) (model.Order, error) {
	return loadOrder(ctx, store.database, number, false)
}

func (store *store) OrderList(ctx context.Context, client string) ([]model.Order, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+orderColumns+
			" FROM client_order"+
			" WHERE client = $1"+
			" ORDER BY created_at",
		client)
	if err != nil {
		return nil, err
	}
	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, order)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		orders[i].Data.Products, err = loadProducts(ctx, store.database, orders[i].Number, false)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// OrderSettle - платеж, заказ и баланс клиента в одной транзакции: либо все, либо ничего
func (store *store) OrderSettle(ctx context.Context, upd SettleUpdate) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p := upd.Payment
	_, err = tx.ExecContext(ctx,
		"INSERT INTO payment (key, order_number, cash, credit, covered, pending, overpaid, paid_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		p.Key,
		p.Data.Order,
		p.Data.Cash,
		p.Data.Credit,
		p.Data.Covered,
		p.Data.Pending,
		p.Data.Overpaid,
		p.Data.PaidAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRequest
		}
		return err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE client_order"+
			" SET received = $1, pay_status = $2, paid_at = $3"+
			" WHERE number = $4"+
			"   AND received = $5"+
			"   AND pay_status = $6",
		upd.Received,
		upd.PayStatus,
		p.Data.PaidAt,
		p.Data.Order,
		upd.ExpectedReceived,
		upd.ExpectedPayStatus)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStale
	}

	if !upd.BalanceDelta.IsZero() {
		if err = balanceAppend(ctx, tx, upd.Client, p.Data.Order, upd.BalanceDelta, p.Data.PaidAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// balanceAppend добавляет запись в журнал баланса. Записи клиента сериализуются
// транзакционной advisory-блокировкой.
func balanceAppend(ctx context.Context, tx *sql.Tx, client string, order string, delta decimal.Decimal, ts time.Time) error {
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", client)
	if err != nil {
		return err
	}

	actual, err := balanceActual(ctx, tx, client)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO balance (client, timestamp, difference, balance, order_number)"+
			" VALUES ($1, $2, $3, $4, $5)",
		client,
		ts,
		delta,
		actual.Data.Balance.Add(delta),
		order)
	return err
}

// OrderApply блокирует заказ с товарами, передает в fn и сохраняет статусы и количества
func (store *store) OrderApply(ctx context.Context, number string, fn func(order *model.Order) error) (model.Order, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer tx.Rollback()

	order, err := loadOrder(ctx, tx, number, true)
	if err != nil {
		return model.Order{}, err
	}

	if err = fn(&order); err != nil {
		return model.Order{}, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE client_order"+
			" SET pay_status = $1, status = $2"+
			" WHERE number = $3",
		order.Data.PayStatus,
		order.Data.Status,
		order.Number)
	if err != nil {
		return model.Order{}, err
	}

	for _, p := range order.Data.Products {
		_, err = tx.ExecContext(ctx,
			"UPDATE product"+
				" SET purchased = $1, received = $2, delivered = $3, status = $4"+
				" WHERE id = $5",
			p.Data.Purchased,
			p.Data.Received,
			p.Data.Delivered,
			p.Data.Status,
			p.ID)
		if err != nil {
			return model.Order{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (store *store) ProductGet(ctx context.Context, id int64) (model.Product, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+productColumns+
			" FROM product"+
			" WHERE id = $1",
		id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Product{}, ErrNoRows
		}
		return model.Product{}, err
	}
	return p, nil
}
