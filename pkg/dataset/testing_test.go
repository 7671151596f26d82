package dataset

import (
	"io"
	"log/slog"
	"testing"
)

const salesCSV = `Order ID,Customer Name,Product Name,Category,Sales,Order Date
CA-1,Claire Gute,Bush Bookcase,Furniture,100,08/11/2016
CA-2,Claire Gute,Hon Chairs,Furniture,200,08/11/2016
CA-3,Darrin Van Huff,Labels,Office Supplies,150,12/06/2016
US-4,Sean O'Donnell,Table,Furniture,75,11/10/2015
US-5,Brosina Hoffman,Phone,Technology,300,09/06/2014
`

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
