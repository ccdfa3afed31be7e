package archive

import (
	"context"

	"github.com/agencyops/ledger-archive/ledger"
)

// archiveInvoices moves every invoice numbered "<seq>/<year>" of the
// period's year into the archive. Each delete commits with its insert.
func (r *Runner) archiveInvoices(ctx context.Context, m *Manifest, period ledger.Period) error {
	year := period.Year()
	invoices, err := batchRead(ctx, r, "list invoices", func(ctx context.Context) ([]ledger.Invoice, error) {
		return r.store.InvoicesForYear(ctx, year)
	})
	if err != nil {
		return err
	}

	units := make([]unit, 0, len(invoices))
	for _, inv := range invoices {
		units = append(units, func(ctx context.Context) EntityResult {
			return r.archiveInvoice(ctx, inv, period)
		})
	}
	m.Results = r.sweep(ctx, units)
	return nil
}

func (r *Runner) archiveInvoice(ctx context.Context, inv ledger.Invoice, period ledger.Period) EntityResult {
	id := string(inv.ID)
	res := EntityResult{EntityType: EntityInvoice, EntityID: id}

	rec := ledger.InvoiceArchive{
		ID:         r.opts.NewID(),
		Invoice:    inv,
		Period:     ledger.ArchivePeriodOf(period),
		ArchivedAt: r.opts.Clock.Now(),
	}
	err := r.store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.InsertInvoiceArchive(ctx, rec); err != nil {
			return stepError(res.EntityType, id, "archive", err)
		}
		return stepError(res.EntityType, id, "delete", s.DeleteInvoice(ctx, inv.ID))
	})
	return settle(res, rec.ID, err)
}
