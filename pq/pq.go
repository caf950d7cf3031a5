// Package pq wraps the lib/pq package to time every connection call.
//
// Importing it registers the "postgresx" database/sql driver.
package pq

import (
	"database/sql"
	"database/sql/driver"
	"net"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/metrics"
)

// DriverName is the name this package registers with database/sql.
const DriverName = "postgresx"

func init() {
	sql.Register(DriverName, &drv{})
}

// We were seeing queries hang, and we think it's because of NAT gateway timeouts:
// http://docs.aws.amazon.com/AmazonVPC/latest/UserGuide/vpc-nat-gateway.html#nat-gateway-troubleshooting-timeout
// Setting a keepalive should help.
const defaultKeepAlive = 3 * time.Minute

// UniqueViolation is the SQLSTATE postgres returns for a unique constraint
// violation.
const UniqueViolation = "23505"

// IsUniqueViolation reports whether err is a postgres unique violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == UniqueViolation
	}
	return false
}

type customDialer struct{}

func (d customDialer) Dial(ntw, addr string) (net.Conn, error) {
	dialer := d.dialer()
	return dialer.Dial(ntw, addr)
}

func (d customDialer) DialTimeout(ntw, addr string, timeout time.Duration) (net.Conn, error) {
	dialer := d.dialer()
	dialer.Timeout = timeout
	return dialer.Dial(ntw, addr)
}

func (d customDialer) dialer() net.Dialer {
	var dialer net.Dialer
	dialer.KeepAlive = defaultKeepAlive
	return dialer
}

var dbTags = map[string]string{"driver": "postgres"}

type drv struct{}

func (d *drv) Open(name string) (driver.Conn, error) {
	t := metrics.Time("db.Conn.Open", dbTags, 1.0)
	defer t.Done()

	c, err := pq.DialOpen(customDialer{}, name)
	if err != nil {
		return nil, err
	}
	return conn{c}, nil
}

type conn struct {
	driver.Conn
}

func (c conn) Close() error {
	t := metrics.Time("db.Conn.Close", dbTags, 1.0)
	defer t.Done()

	return c.Conn.Close()
}

func (c conn) Begin() (driver.Tx, error) {
	t := metrics.Time("db.Conn.Begin", dbTags, 1.0)
	defer t.Done()

	return c.Conn.Begin()
}

func (c conn) Query(query string, args []driver.Value) (driver.Rows, error) {
	t := metrics.Time("db.Conn.Query", dbTags, 1.0)
	defer t.Done()

	return c.Conn.(driver.Queryer).Query(query, args)
}

func (c conn) Exec(query string, args []driver.Value) (driver.Result, error) {
	t := metrics.Time("db.Conn.Exec", dbTags, 1.0)
	defer t.Done()

	return c.Conn.(driver.Execer).Exec(query, args)
}
