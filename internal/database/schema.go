package database

const schema = `
CREATE TABLE IF NOT EXISTS identities (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT UNIQUE,
    device_fingerprint VARCHAR(128) UNIQUE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS credit_balances (
    identity_id BIGINT PRIMARY KEY,
    free_credit_used TINYINT(1) NOT NULL DEFAULT 0,
    last_free_credit_at TIMESTAMP NULL,
    paid_credits INT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    FOREIGN KEY (identity_id) REFERENCES identities(id)
);

CREATE TABLE IF NOT EXISTS stored_images (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    identity_id BIGINT,
    object_key VARCHAR(512) NOT NULL,
    url VARCHAR(1024) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    content_type VARCHAR(64) NOT NULL,
    parent_image_id BIGINT,
    expires_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (identity_id) REFERENCES identities(id),
    FOREIGN KEY (parent_image_id) REFERENCES stored_images(id)
);

CREATE TABLE IF NOT EXISTS transformation_requests (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    identity_id BIGINT NOT NULL,
    source_image_id BIGINT NOT NULL,
    prompt TEXT NOT NULL,
    requested_size VARCHAR(16) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    strategy_attempts VARCHAR(255) NOT NULL DEFAULT '',
    failure_kind VARCHAR(32) NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    FOREIGN KEY (identity_id) REFERENCES identities(id),
    FOREIGN KEY (source_image_id) REFERENCES stored_images(id)
);

CREATE TABLE IF NOT EXISTS transformation_results (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    request_id BIGINT NOT NULL,
    image_id BIGINT NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (request_id) REFERENCES transformation_requests(id),
    FOREIGN KEY (image_id) REFERENCES stored_images(id)
);

CREATE TABLE IF NOT EXISTS promo_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    credits INT NOT NULL,
    max_uses INT NOT NULL,
    uses INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS promo_redemptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    identity_id BIGINT NOT NULL,
    promo_code_id BIGINT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_identity_promo (identity_id, promo_code_id),
    FOREIGN KEY (identity_id) REFERENCES identities(id),
    FOREIGN KEY (promo_code_id) REFERENCES promo_codes(id)
);

CREATE TABLE IF NOT EXISTS credit_packs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    description TEXT,
    currency VARCHAR(8) NOT NULL,
    price_minor_units INT NOT NULL,
    credits INT NOT NULL,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);
`
