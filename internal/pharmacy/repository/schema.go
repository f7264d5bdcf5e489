package repository

// Schema creates the sale journal tables
const Schema = `
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL
			CONSTRAINT sales_status_valid CHECK (status IN ('completed', 'refunded', 'voided')),
		payment_method TEXT NOT NULL
			CONSTRAINT sales_payment_method_valid CHECK (payment_method IN ('cash', 'credit')),
		performed_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales (created_at);

	CREATE TABLE IF NOT EXISTS sale_lines (
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		line_no INT NOT NULL,
		batch_id TEXT NOT NULL,
		medicine_id TEXT NOT NULL,
		quantity INT NOT NULL
			CONSTRAINT sale_lines_quantity_positive CHECK (quantity > 0),
		unit_price NUMERIC(14, 4) NOT NULL,
		unit_cost NUMERIC(14, 4) NOT NULL,
		fefo_override BOOLEAN NOT NULL DEFAULT false,
		PRIMARY KEY (sale_id, line_no)
	);
	CREATE INDEX IF NOT EXISTS idx_sale_lines_batch ON sale_lines (batch_id);

	CREATE TABLE IF NOT EXISTS stock_adjustments (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		medicine_id TEXT NOT NULL,
		delta INT NOT NULL,
		previous_quantity INT NOT NULL,
		new_quantity INT NOT NULL,
		reason TEXT NOT NULL,
		note TEXT,
		unit_cost NUMERIC(14, 4) NOT NULL,
		performed_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stock_adjustments_created_at ON stock_adjustments (created_at);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		amount NUMERIC(14, 4) NOT NULL,
		incurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_expenses_incurred_at ON expenses (incurred_at);
`
